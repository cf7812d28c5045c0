package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openctemio/docflow/pkg/domain/shared"
	"github.com/openctemio/docflow/pkg/domain/workflow"
)

var startCmd = &cobra.Command{
	Use:   "start KIND",
	Short: "Start a workflow",
	Long: `Start a workflow by publishing its creation event.

The payload is read from --file (JSON or YAML, "-" for stdin) or --data.
Passing --correlation-id makes the request idempotent: repeating it
never creates a second instance.`,
	Example: `  docflow-admin start validation -f request.yaml
  docflow-admin start review --data '{"document_id":"...","questions":["..."]}'`,
	Args: cobra.ExactArgs(1),
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringP("file", "f", "", "Payload file (JSON or YAML), - for stdin")
	startCmd.Flags().String("data", "", "Inline JSON payload")
	startCmd.Flags().String("correlation-id", "", "Correlation ID to use instead of a generated one")
}

func runStart(cmd *cobra.Command, args []string) error {
	kind, ok := workflow.ParseKind(args[0])
	if !ok {
		return fmt.Errorf("unknown workflow kind %q", args[0])
	}

	file, _ := cmd.Flags().GetString("file")
	inline, _ := cmd.Flags().GetString("data")
	payload, err := readPayload(file, inline, cmd.InOrStdin())
	if err != nil {
		return err
	}

	headers := map[string]string{}
	if v, _ := cmd.Flags().GetString("correlation-id"); v != "" {
		id, err := shared.IDFromString(v)
		if err != nil {
			return fmt.Errorf("invalid --correlation-id: %w", err)
		}
		headers[correlationIDHeader] = id.String()
	}

	client := mustClient()
	data, err := client.Post(cmd.Context(), "/api/v1/workflows/"+string(kind), payload, headers)
	if err != nil {
		return err
	}

	var resp StartResponse
	if err := unmarshal(data, &resp); err != nil {
		return err
	}

	switch flagOutput {
	case outputJSON:
		printJSON(resp)
	case outputYAML:
		printYAML(resp)
	default:
		fmt.Printf("Workflow %s/%s accepted (%s %s).\n", resp.Kind, resp.CorrelationID, resp.MessageType, resp.MessageID)
	}
	return nil
}

// readPayload returns the request body as raw JSON.
func readPayload(file, inline string, stdin io.Reader) (json.RawMessage, error) {
	switch {
	case file != "" && inline != "":
		return nil, fmt.Errorf("--file and --data are mutually exclusive")
	case inline != "":
		if !json.Valid([]byte(inline)) {
			return nil, fmt.Errorf("--data is not valid JSON")
		}
		return json.RawMessage(inline), nil
	case file == "":
		return nil, fmt.Errorf("a payload is required: use --file or --data")
	}

	var (
		data []byte
		err  error
	)
	if file == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	switch strings.ToLower(filepath.Ext(file)) {
	case ".yaml", ".yml":
		return yamlToJSON(data)
	}
	if json.Valid(data) {
		return json.RawMessage(data), nil
	}
	// stdin and extension-less files may hold YAML.
	return yamlToJSON(data)
}

func yamlToJSON(data []byte) (json.RawMessage, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	return out, nil
}
