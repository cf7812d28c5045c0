package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	version string

	// Global flags
	flagAPIURL  string
	flagContext string
	flagOutput  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "docflow-admin",
	Short: "docflow operations CLI",
	Long: `docflow-admin is a kubectl-style CLI for operating a docflow server.

It starts workflows, inspects workflow instances, shows the load of
every concurrency category and manages leases held by remote workers.

Use "docflow-admin config set-context" to configure your connection.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. An interrupt cancels in-flight requests.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// SetVersion sets the CLI version from build flags.
func SetVersion(v string) {
	version = v
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&flagAPIURL, "api-url", "", "Override API URL (env: DOCFLOW_API_URL)")
	rootCmd.PersistentFlags().StringVarP(&flagContext, "context", "c", "", "Use specific context (env: DOCFLOW_CONTEXT)")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "table", "Output format: table, wide, json, yaml")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(clusterInfoCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(describeCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(leaseCmd)
}

func initConfig() {
	if flagAPIURL == "" {
		flagAPIURL = os.Getenv("DOCFLOW_API_URL")
	}
	if flagAPIURL == "" {
		flagAPIURL = resolveFromConfigFile()
	}
}

func resolveFromConfigFile() string {
	ctxName := flagContext
	if ctxName == "" {
		ctxName = os.Getenv("DOCFLOW_CONTEXT")
	}

	cfg, err := loadConfig()
	if err != nil {
		return ""
	}

	if ctxName == "" {
		ctxName = cfg.CurrentContext
	}

	ctx := cfg.GetContext(ctxName)
	if ctx == nil {
		return ""
	}
	return ctx.Context.APIURL
}

func mustClient() *Client {
	if flagAPIURL == "" {
		fmt.Fprintln(os.Stderr, "Error: API URL not configured. Use --api-url, DOCFLOW_API_URL, or 'docflow-admin config set-context'")
		os.Exit(1)
	}
	return NewClient(flagAPIURL, flagVerbose)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("docflow-admin version %s\n", version)
		fmt.Printf("  Go:       %s\n", runtime.Version())
		fmt.Printf("  OS/Arch:  %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

var clusterInfoCmd = &cobra.Command{
	Use:   "cluster-info",
	Short: "Display server readiness and dependency checks",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := mustClient()

		// A not-ready server answers 503 with the same body.
		data, err := client.Get(cmd.Context(), "/ready")
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable {
			data, err = apiErr.Body, nil
		}
		if err != nil {
			return fmt.Errorf("connection failed: %w", err)
		}

		var resp ReadyResponse
		if err := unmarshal(data, &resp); err != nil {
			return err
		}

		switch flagOutput {
		case outputJSON:
			printJSON(resp)
			return nil
		case outputYAML:
			printYAML(resp)
			return nil
		}

		fmt.Fprintf(os.Stdout, "docflow\n")
		fmt.Fprintf(os.Stdout, "  API URL:  %s\n", flagAPIURL)
		fmt.Fprintf(os.Stdout, "  Status:   %s\n", resp.Status)
		if len(resp.Checks) > 0 {
			fmt.Fprintln(os.Stdout)
			t := newTable("CHECK", "STATUS", "DURATION", "ERROR")
			for _, name := range sortedKeys(resp.Checks) {
				c := resp.Checks[name]
				t.AddRow(name, c.Status, c.Duration, dash(c.Error))
			}
			t.Render()
		}
		return nil
	},
}
