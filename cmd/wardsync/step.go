package main

import (
	"fmt"

	"github.com/hyperengineering/wardsync"
	"github.com/spf13/cobra"
)

var stepCmd = &cobra.Command{
	Use:   "step",
	Short: "Manage treatment plan steps",
	Example: `  wardsync step add --plan 2 --number 1 --description "Ice twice daily" --due 2026-03-01
  wardsync step done 5
  wardsync step delete 5`,
}

var stepAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a step to a treatment plan",
	Args:  cobra.NoArgs,
	RunE:  runStepAdd,
}

var stepUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change a plan step",
	Args:  cobra.ExactArgs(1),
	RunE:  runStepUpdate,
}

var stepDoneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Mark a plan step done",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseLocalID(args[0])
		if err != nil {
			return err
		}
		return runUpdate(cmd, wardsync.TablePlanSteps, id, wardsync.Fields{"status": wardsync.StepStatusDone})
	},
}

var stepDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a plan step",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete(wardsync.TablePlanSteps),
}

var (
	stepPlan        int64
	stepNumber      int
	stepDescription string
	stepStatus      string
	stepDue         string
)

func init() {
	stepAddCmd.Flags().Int64Var(&stepPlan, "plan", 0, "Treatment plan local id (required)")
	stepAddCmd.Flags().IntVar(&stepNumber, "number", 0, "Step number, starting at 1 (required)")
	_ = stepAddCmd.MarkFlagRequired("plan")
	_ = stepAddCmd.MarkFlagRequired("number")

	for _, c := range []*cobra.Command{stepAddCmd, stepUpdateCmd} {
		c.Flags().StringVar(&stepDescription, "description", "", "What to do")
		c.Flags().StringVar(&stepStatus, "status", "", "pending, in_progress, done or skipped")
		c.Flags().StringVar(&stepDue, "due", "", "Due date (YYYY-MM-DD)")
	}

	stepCmd.AddCommand(stepAddCmd)
	stepCmd.AddCommand(stepUpdateCmd)
	stepCmd.AddCommand(stepDoneCmd)
	stepCmd.AddCommand(stepDeleteCmd)
}

func runStepAdd(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	ps, err := client.CreateStep(cmd.Context(), wardsync.StepFields{
		PlanLocalID: stepPlan,
		StepNumber:  stepNumber,
		Description: stepDescription,
		Status:      stepStatus,
		DueDate:     stepDue,
	})
	if err != nil {
		return fmt.Errorf("add step: %w", err)
	}
	return outputStep(cmd, ps)
}

func runStepUpdate(cmd *cobra.Command, args []string) error {
	id, err := parseLocalID(args[0])
	if err != nil {
		return err
	}
	return runUpdate(cmd, wardsync.TablePlanSteps, id, changedFields(cmd, map[string]string{
		"description": "description",
		"status":      "status",
		"due":         "due_date",
	}))
}
