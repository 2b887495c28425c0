package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/openfroyo/liqbatch/pkg/engine"
)

func marshalJSON(v interface{}) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := marshalJSON(v)
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printPlan(w io.Writer, plan *engine.ExecutionPlan) {
	fmt.Fprintf(w, "Plan %s\n", plan.ID)
	fmt.Fprintf(w, "  strategy:       %s\n", plan.Strategy)
	fmt.Fprintf(w, "  operations:     %d\n", len(plan.Operations))
	fmt.Fprintf(w, "  estimated cost: %.6f\n", plan.Estimate.TotalCost)
	fmt.Fprintf(w, "  duration:       %s\n", plan.Estimate.Duration)
	if len(plan.Estimate.CriticalPath) > 0 {
		fmt.Fprintf(w, "  critical path:  %s\n", strings.Join(plan.Estimate.CriticalPath, " -> "))
	}
	fmt.Fprintf(w, "  success prob.:  %.2f\n", plan.Expected.SuccessProbability)
	fmt.Fprintf(w, "  risk:           %s (%.2f)\n", plan.Expected.RiskLevel, plan.Expected.RiskScore)

	fmt.Fprintln(w, "\nGroups:")
	for i, group := range plan.Groups {
		fmt.Fprintf(w, "  %d: %s\n", i+1, strings.Join(group, ", "))
	}

	if len(plan.Rejected) > 0 {
		fmt.Fprintln(w, "\nRejected:")
		for _, r := range plan.Rejected {
			fmt.Fprintf(w, "  %s (%s): %s\n", r.ID, r.Type, r.Reason)
		}
	}

	warnings := plan.Warnings
	if plan.Policy != nil {
		warnings = append(warnings, plan.Policy.Warnings...)
	}
	if len(warnings) > 0 {
		fmt.Fprintln(w, "\nWarnings:")
		for _, warning := range warnings {
			fmt.Fprintf(w, "  %s\n", warning)
		}
	}
}

func printResult(w io.Writer, result *engine.ExecutionResult) {
	fmt.Fprintf(w, "Execution %s (plan %s)\n", result.ExecutionID, result.PlanID)
	fmt.Fprintf(w, "  status:   %s\n", result.Status)
	fmt.Fprintf(w, "  cost:     %.6f (estimated %.6f)\n", result.TotalCost, result.EstimatedCost)
	fmt.Fprintf(w, "  duration: %s\n", result.Duration)
	m := result.Metrics
	fmt.Fprintf(w, "  results:  %d succeeded, %d failed, %d skipped, %d rolled back\n",
		m.Succeeded, m.Failed, m.Skipped, m.RolledBack)
	if result.HaltReason != "" {
		fmt.Fprintf(w, "  halted:   %s\n", result.HaltReason)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\nOPERATION\tTYPE\tSTATUS\tATTEMPTS\tCOST\tERROR")
	for _, r := range result.Results {
		msg := ""
		if r.Error != nil {
			msg = r.Error.Message
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.6f\t%s\n", r.OperationID, r.Type, r.Status, r.Attempts, r.Cost, msg)
	}
	tw.Flush()

	if result.Rollback != nil {
		fmt.Fprintf(w, "\nRollback (%s):\n", result.Rollback.Trigger)
		for _, step := range result.Rollback.Steps {
			fmt.Fprintf(w, "  %s %s", step.OperationID, step.Status)
			if step.Error != "" {
				fmt.Fprintf(w, ": %s", step.Error)
			}
			fmt.Fprintln(w)
		}
	}
}
