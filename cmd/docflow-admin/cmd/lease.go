package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/openctemio/docflow/pkg/domain/lease"
)

var leaseCmd = &cobra.Command{
	Use:   "lease",
	Short: "Acquire and release concurrency leases",
}

var leaseAcquireCmd = &cobra.Command{
	Use:   "acquire CATEGORY",
	Short: "Wait for a lease and print it",
	Args:  cobra.ExactArgs(1),
	RunE:  runLeaseAcquire,
}

var leaseReleaseCmd = &cobra.Command{
	Use:   "release CATEGORY LEASE_ID",
	Short: "Release a lease",
	Args:  cobra.ExactArgs(2),
	RunE:  runLeaseRelease,
}

var leaseExecCmd = &cobra.Command{
	Use:   "exec CATEGORY -- COMMAND [ARGS...]",
	Short: "Run a command while holding a lease",
	Long: `Acquire a lease, run the command and release the lease when the
command exits. The command's exit code is returned.`,
	Example: `  docflow-admin lease exec ingestion --weight 2 -- ./reindex.sh`,
	Args:    cobra.MinimumNArgs(2),
	RunE:    runLeaseExec,
}

func init() {
	for _, c := range []*cobra.Command{leaseAcquireCmd, leaseExecCmd} {
		c.Flags().String("requester", defaultRequester(), "Requester ID shown in the server logs")
		c.Flags().Int("weight", 1, "Lease weight")
		c.Flags().Duration("wait", 0, "Maximum time to wait (0 = server default)")
		c.Flags().Duration("ttl", 0, "Lease TTL (0 = server default)")
	}

	leaseCmd.AddCommand(leaseAcquireCmd)
	leaseCmd.AddCommand(leaseReleaseCmd)
	leaseCmd.AddCommand(leaseExecCmd)
}

func defaultRequester() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("docflow-admin@%s:%d", host, os.Getpid())
}

func acquire(cmd *cobra.Command, client *Client, category lease.Category) (LeaseResponse, error) {
	requester, _ := cmd.Flags().GetString("requester")
	weight, _ := cmd.Flags().GetInt("weight")
	wait, _ := cmd.Flags().GetDuration("wait")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	data, err := client.Post(cmd.Context(), "/api/v1/concurrency/"+string(category)+"/leases", AcquireRequest{
		RequesterID:   requester,
		Weight:        weight,
		WaitTimeoutMS: wait.Milliseconds(),
		LeaseTTLMS:    ttl.Milliseconds(),
	}, nil)
	if err != nil {
		return LeaseResponse{}, err
	}

	var resp LeaseResponse
	if err := unmarshal(data, &resp); err != nil {
		return LeaseResponse{}, err
	}
	return resp, nil
}

func runLeaseAcquire(cmd *cobra.Command, args []string) error {
	category, err := lease.ParseCategory(args[0])
	if err != nil {
		return err
	}
	resp, err := acquire(cmd, mustClient(), category)
	if err != nil {
		return err
	}

	switch flagOutput {
	case outputJSON:
		printJSON(resp)
	case outputYAML:
		printYAML(resp)
	default:
		t := newTable("LEASE ID", "CATEGORY", "WEIGHT", "GRANTED", "EXPIRES")
		t.AddRow(resp.ID, string(resp.Category), fmt.Sprintf("%d", resp.Weight), shortTime(resp.GrantedAt), optTime(resp.ExpiresAt))
		t.Render()
	}
	return nil
}

func runLeaseRelease(cmd *cobra.Command, args []string) error {
	category, err := lease.ParseCategory(args[0])
	if err != nil {
		return err
	}
	client := mustClient()
	if err := client.Delete(cmd.Context(), "/api/v1/concurrency/"+string(category)+"/leases/"+args[1]); err != nil {
		return err
	}
	fmt.Printf("Lease %s released.\n", args[1])
	return nil
}

func runLeaseExec(cmd *cobra.Command, args []string) error {
	category, err := lease.ParseCategory(args[0])
	if err != nil {
		return err
	}
	client := mustClient()

	ls, err := acquire(cmd, client, category)
	if err != nil {
		return err
	}
	if flagVerbose {
		fmt.Fprintf(os.Stderr, "lease %s granted on %s\n", ls.ID, ls.Category)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 10*time.Second)
		defer cancel()
		if err := client.Delete(ctx, "/api/v1/concurrency/"+string(category)+"/leases/"+ls.ID); err != nil {
			fmt.Fprintf(os.Stderr, "Error: release lease %s: %v\n", ls.ID, err)
		}
	}()

	child := exec.CommandContext(cmd.Context(), args[1], args[2:]...)
	child.Stdin = os.Stdin
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr
	if err := child.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%s exited with code %d", args[1], exitErr.ExitCode())
		}
		return fmt.Errorf("run %s: %w", args[1], err)
	}
	return nil
}
