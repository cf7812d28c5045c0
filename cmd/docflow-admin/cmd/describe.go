package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openctemio/docflow/pkg/domain/lease"
	"github.com/openctemio/docflow/pkg/domain/workflow"
)

var describeCmd = &cobra.Command{
	Use:   "describe",
	Short: "Show detailed information about a resource",
}

var describeWorkflowCmd = &cobra.Command{
	Use:     "workflow KIND CORRELATION_ID",
	Aliases: []string{"wf"},
	Short:   "Show a workflow instance with its data",
	Args:    cobra.ExactArgs(2),
	RunE:    runDescribeWorkflow,
}

var describeCategoryCmd = &cobra.Command{
	Use:     "category CATEGORY",
	Aliases: []string{"cat"},
	Short:   "Show the load of one concurrency category",
	Args:    cobra.ExactArgs(1),
	RunE:    runDescribeCategory,
}

func init() {
	describeCmd.AddCommand(describeWorkflowCmd)
	describeCmd.AddCommand(describeCategoryCmd)
}

func runDescribeWorkflow(cmd *cobra.Command, args []string) error {
	kind, ok := workflow.ParseKind(args[0])
	if !ok {
		return fmt.Errorf("unknown workflow kind %q", args[0])
	}
	client := mustClient()
	data, err := client.Get(cmd.Context(), "/api/v1/workflows/"+string(kind)+"/"+args[1])
	if err != nil {
		return err
	}

	var resp workflow.Snapshot
	if err := unmarshal(data, &resp); err != nil {
		return err
	}

	switch flagOutput {
	case outputJSON:
		printJSON(resp)
	case outputYAML:
		printYAML(resp)
	default:
		fmt.Printf("Correlation ID:  %s\n", resp.CorrelationID)
		fmt.Printf("Kind:            %s\n", resp.Kind)
		fmt.Printf("State:           %s\n", resp.State)
		fmt.Printf("Version:         %d\n", resp.Version)
		fmt.Printf("Pending Outbox:  %d\n", resp.PendingOutbox)
		fmt.Printf("Failure:         %s\n", dash(resp.FailureReason))
		fmt.Printf("Created At:      %s\n", shortTime(resp.CreatedAt))
		fmt.Printf("Updated At:      %s\n", shortTime(resp.UpdatedAt))
		fmt.Printf("Completed At:    %s\n", optTime(resp.CompletedAt))
		if len(resp.Data) > 0 {
			fmt.Printf("Data:\n%s\n", indentJSON(resp.Data, "  "))
		}
	}
	return nil
}

func runDescribeCategory(cmd *cobra.Command, args []string) error {
	category, err := lease.ParseCategory(args[0])
	if err != nil {
		return err
	}
	client := mustClient()
	data, err := client.Get(cmd.Context(), "/api/v1/concurrency/"+string(category))
	if err != nil {
		return err
	}

	var resp lease.StatusReport
	if err := unmarshal(data, &resp); err != nil {
		return err
	}

	switch flagOutput {
	case outputJSON:
		printJSON(resp)
	case outputYAML:
		printYAML(resp)
	default:
		fmt.Printf("Category:        %s\n", resp.Category)
		fmt.Printf("Max Concurrency: %d\n", resp.MaxConcurrency)
		fmt.Printf("Active Weight:   %d\n", resp.ActiveWeight)
		fmt.Printf("Queue Length:    %d\n", resp.QueueLength)
		fmt.Printf("Utilization:     %.1f%%\n", resp.Utilization)
		fmt.Printf("Load:            %s\n", resp.Label)
		fmt.Printf("Severity:        %s\n", resp.Severity)
		fmt.Printf("Message:         %s\n", resp.Message)
		fmt.Printf("Reported At:     %s\n", shortTime(resp.ReportedAt))
	}
	return nil
}

func indentJSON(raw json.RawMessage, prefix string) string {
	out, err := json.MarshalIndent(raw, prefix, "  ")
	if err != nil {
		return prefix + string(raw)
	}
	return prefix + strings.TrimSpace(string(out))
}
