package main

import (
	"fmt"

	"github.com/hyperengineering/wardsync"
	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Manage treatment plans",
	Example: `  wardsync plan add --patient 1 --title "Knee rehab" --status active
  wardsync plan update 2 --status completed
  wardsync plan delete 2`,
}

var planAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a treatment plan to a patient",
	Args:  cobra.NoArgs,
	RunE:  runPlanAdd,
}

var planUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change a treatment plan",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanUpdate,
}

var planDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a treatment plan and its steps",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete(wardsync.TableTreatmentPlans),
}

var (
	planPatient   int64
	planTitle     string
	planDiagnosis string
	planStatus    string
	planStart     string
)

func init() {
	planAddCmd.Flags().Int64Var(&planPatient, "patient", 0, "Patient local id (required)")
	for _, c := range []*cobra.Command{planAddCmd, planUpdateCmd} {
		c.Flags().StringVar(&planTitle, "title", "", "Plan title")
		c.Flags().StringVar(&planDiagnosis, "diagnosis", "", "Diagnosis (markdown)")
		c.Flags().StringVar(&planStatus, "status", "", "draft, active, completed or cancelled")
		c.Flags().StringVar(&planStart, "start", "", "Start date (YYYY-MM-DD)")
	}
	_ = planAddCmd.MarkFlagRequired("patient")
	_ = planAddCmd.MarkFlagRequired("title")

	planCmd.AddCommand(planAddCmd)
	planCmd.AddCommand(planUpdateCmd)
	planCmd.AddCommand(planDeleteCmd)
}

func runPlanAdd(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	tp, err := client.CreatePlan(cmd.Context(), wardsync.PlanFields{
		PatientLocalID: planPatient,
		Title:          planTitle,
		Diagnosis:      planDiagnosis,
		Status:         planStatus,
		StartDate:      planStart,
	})
	if err != nil {
		return fmt.Errorf("add plan: %w", err)
	}
	return outputPlan(cmd, tp)
}

func runPlanUpdate(cmd *cobra.Command, args []string) error {
	id, err := parseLocalID(args[0])
	if err != nil {
		return err
	}
	return runUpdate(cmd, wardsync.TableTreatmentPlans, id, changedFields(cmd, map[string]string{
		"title":     "title",
		"diagnosis": "diagnosis",
		"status":    "status",
		"start":     "start_date",
	}))
}
