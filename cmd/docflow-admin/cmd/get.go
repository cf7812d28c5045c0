package cmd

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/openctemio/docflow/pkg/domain/lease"
	"github.com/openctemio/docflow/pkg/domain/workflow"
)

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "List resources",
}

var getKindsCmd = &cobra.Command{
	Use:     "kinds",
	Aliases: []string{"kind"},
	Short:   "List workflow kinds and their creation events",
	Args:    cobra.NoArgs,
	RunE:    runGetKinds,
}

var getWorkflowsCmd = &cobra.Command{
	Use:     "workflows KIND",
	Aliases: []string{"workflow", "wf"},
	Short:   "List workflow instances of a kind",
	Args:    cobra.ExactArgs(1),
	RunE:    runGetWorkflows,
}

var getCategoriesCmd = &cobra.Command{
	Use:     "categories",
	Aliases: []string{"category", "cat"},
	Short:   "List concurrency categories with their load",
	Args:    cobra.NoArgs,
	RunE:    runGetCategories,
}

func init() {
	getWorkflowsCmd.Flags().StringSlice("state", nil, "Filter by state (repeatable or comma separated)")
	getWorkflowsCmd.Flags().Int("limit", 50, "Maximum number of instances")

	getCmd.AddCommand(getKindsCmd)
	getCmd.AddCommand(getWorkflowsCmd)
	getCmd.AddCommand(getCategoriesCmd)
}

func runGetKinds(cmd *cobra.Command, args []string) error {
	client := mustClient()
	data, err := client.Get(cmd.Context(), "/api/v1/workflows")
	if err != nil {
		return err
	}

	var resp ListResponse[KindResponse]
	if err := unmarshal(data, &resp); err != nil {
		return err
	}

	switch flagOutput {
	case outputJSON:
		printJSON(resp)
	case outputYAML:
		printYAML(resp)
	default:
		t := newTable("KIND", "CREATION EVENT")
		for _, k := range resp.Data {
			t.AddRow(string(k.Kind), string(k.CreationEvent))
		}
		t.Render()
	}
	return nil
}

func runGetWorkflows(cmd *cobra.Command, args []string) error {
	kind, ok := workflow.ParseKind(args[0])
	if !ok {
		return fmt.Errorf("unknown workflow kind %q", args[0])
	}
	client := mustClient()

	params := url.Values{}
	if v, _ := cmd.Flags().GetStringSlice("state"); len(v) > 0 {
		params.Set("state", strings.Join(v, ","))
	}
	if v, _ := cmd.Flags().GetInt("limit"); v > 0 {
		params.Set("limit", strconv.Itoa(v))
	}

	path := "/api/v1/workflows/" + string(kind)
	if q := params.Encode(); q != "" {
		path += "?" + q
	}

	data, err := client.Get(cmd.Context(), path)
	if err != nil {
		return err
	}

	var resp ListResponse[workflow.Snapshot]
	if err := unmarshal(data, &resp); err != nil {
		return err
	}

	now := time.Now()
	switch flagOutput {
	case outputJSON:
		printJSON(resp)
	case outputYAML:
		printYAML(resp)
	case outputWide:
		t := newTable("CORRELATION ID", "STATE", "VERSION", "PENDING", "FAILURE", "CREATED", "UPDATED", "COMPLETED")
		for _, s := range resp.Data {
			t.AddRow(s.CorrelationID.String(), string(s.State), strconv.FormatInt(s.Version, 10),
				strconv.Itoa(s.PendingOutbox), dash(s.FailureReason),
				shortTime(s.CreatedAt), shortTime(s.UpdatedAt), optTime(s.CompletedAt))
		}
		t.Render()
		printTotal(len(resp.Data), resp.Total)
	default:
		t := newTable("CORRELATION ID", "STATE", "VERSION", "AGE")
		for _, s := range resp.Data {
			t.AddRow(s.CorrelationID.String(), string(s.State), strconv.FormatInt(s.Version, 10), age(s.CreatedAt, now))
		}
		t.Render()
		printTotal(len(resp.Data), resp.Total)
	}
	return nil
}

func runGetCategories(cmd *cobra.Command, args []string) error {
	client := mustClient()
	data, err := client.Get(cmd.Context(), "/api/v1/concurrency")
	if err != nil {
		return err
	}

	var resp ListResponse[lease.StatusReport]
	if err := unmarshal(data, &resp); err != nil {
		return err
	}

	switch flagOutput {
	case outputJSON:
		printJSON(resp)
	case outputYAML:
		printYAML(resp)
	case outputWide:
		t := newTable("CATEGORY", "ACTIVE", "MAX", "QUEUED", "UTILIZATION", "SEVERITY", "MESSAGE")
		for _, s := range resp.Data {
			t.AddRow(string(s.Category), strconv.Itoa(s.ActiveWeight), strconv.Itoa(s.MaxConcurrency),
				strconv.Itoa(s.QueueLength), fmt.Sprintf("%.0f%%", s.Utilization),
				string(s.Severity), truncate(s.Message, 60))
		}
		t.Render()
	default:
		t := newTable("CATEGORY", "ACTIVE", "MAX", "QUEUED", "LOAD")
		for _, s := range resp.Data {
			t.AddRow(string(s.Category), strconv.Itoa(s.ActiveWeight), strconv.Itoa(s.MaxConcurrency),
				strconv.Itoa(s.QueueLength), s.Label)
		}
		t.Render()
	}
	return nil
}
