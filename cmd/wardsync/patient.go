package main

import (
	"context"
	"fmt"

	"github.com/hyperengineering/wardsync"
	"github.com/spf13/cobra"
)

var patientCmd = &cobra.Command{
	Use:   "patient",
	Short: "Record and inspect patients",
	Example: `  wardsync patient add --name "Jane Doe" --mrn 00123 --dob 1980-02-29
  wardsync patient list
  wardsync patient show 1
  wardsync patient update 1 --notes "## Allergies\n- penicillin"
  wardsync patient delete 1`,
}

var patientAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Record a new patient",
	Args:  cobra.NoArgs,
	RunE:  runPatientAdd,
}

var patientListCmd = &cobra.Command{
	Use:   "list",
	Short: "List patients",
	Args:  cobra.NoArgs,
	RunE:  runPatientList,
}

var patientShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a patient with plans and steps",
	Args:  cobra.ExactArgs(1),
	RunE:  runPatientShow,
}

var patientUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change patient details",
	Args:  cobra.ExactArgs(1),
	RunE:  runPatientUpdate,
}

var patientDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a patient",
	Long: `Delete a patient along with their treatment plans and steps. The records
are hidden immediately and removed once the records service confirms the
deletes.`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete(wardsync.TablePatients),
}

var (
	patientName  string
	patientMRN   string
	patientDOB   string
	patientSex   string
	patientNotes string
)

func init() {
	for _, c := range []*cobra.Command{patientAddCmd, patientUpdateCmd} {
		c.Flags().StringVar(&patientName, "name", "", "Full name")
		c.Flags().StringVar(&patientMRN, "mrn", "", "Medical record number")
		c.Flags().StringVar(&patientDOB, "dob", "", "Date of birth (YYYY-MM-DD)")
		c.Flags().StringVar(&patientSex, "sex", "", "Sex")
		c.Flags().StringVar(&patientNotes, "notes", "", "Clinical notes (markdown)")
	}
	_ = patientAddCmd.MarkFlagRequired("name")

	patientCmd.AddCommand(patientAddCmd)
	patientCmd.AddCommand(patientListCmd)
	patientCmd.AddCommand(patientShowCmd)
	patientCmd.AddCommand(patientUpdateCmd)
	patientCmd.AddCommand(patientDeleteCmd)
}

func runPatientAdd(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	p, err := client.CreatePatient(cmd.Context(), wardsync.PatientFields{
		Name:        patientName,
		MRN:         patientMRN,
		DateOfBirth: patientDOB,
		Sex:         patientSex,
		Notes:       patientNotes,
	})
	if err != nil {
		return fmt.Errorf("record patient: %w", err)
	}
	return outputPatient(cmd, p)
}

func runPatientList(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	patients, err := client.Patients(cmd.Context())
	if err != nil {
		return fmt.Errorf("list patients: %w", err)
	}
	return outputPatients(cmd, patients)
}

func runPatientShow(cmd *cobra.Command, args []string) error {
	id, err := parseLocalID(args[0])
	if err != nil {
		return err
	}
	client, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	chart, err := loadChart(cmd.Context(), client, id)
	if err != nil {
		return err
	}
	return outputChart(cmd, chart)
}

func loadChart(ctx context.Context, client *wardsync.Client, patientID int64) (patientChart, error) {
	p, err := client.Patient(ctx, patientID)
	if err != nil {
		return patientChart{}, fmt.Errorf("patient #%d: %w", patientID, err)
	}
	chart := patientChart{Patient: p, Plans: []planWithSteps{}}

	plans, err := client.PlansForPatient(ctx, patientID)
	if err != nil {
		return patientChart{}, fmt.Errorf("load plans: %w", err)
	}
	for _, tp := range plans {
		steps, err := client.StepsForPlan(ctx, tp.LocalID)
		if err != nil {
			return patientChart{}, fmt.Errorf("load steps: %w", err)
		}
		if steps == nil {
			steps = []*wardsync.PlanStep{}
		}
		chart.Plans = append(chart.Plans, planWithSteps{TreatmentPlan: tp, Steps: steps})
	}
	return chart, nil
}

func runPatientUpdate(cmd *cobra.Command, args []string) error {
	id, err := parseLocalID(args[0])
	if err != nil {
		return err
	}
	fields := changedFields(cmd, map[string]string{
		"name":  "name",
		"mrn":   "mrn",
		"dob":   "date_of_birth",
		"sex":   "sex",
		"notes": "notes",
	})
	return runUpdate(cmd, wardsync.TablePatients, id, fields)
}

// changedFields collects the string flags the user set, keyed by column.
func changedFields(cmd *cobra.Command, flagToColumn map[string]string) wardsync.Fields {
	fields := wardsync.Fields{}
	for flag, column := range flagToColumn {
		if cmd.Flags().Changed(flag) {
			v, _ := cmd.Flags().GetString(flag)
			fields[column] = v
		}
	}
	return fields
}

func runUpdate(cmd *cobra.Command, table wardsync.Table, id int64, fields wardsync.Fields) error {
	if len(fields) == 0 {
		return fmt.Errorf("nothing to update: pass at least one field flag")
	}
	client, err := newClient()
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Update(cmd.Context(), table, id, fields); err != nil {
		return fmt.Errorf("update %s #%d: %w", table, id, err)
	}
	if outputJSON {
		rec, err := client.Store().Get(cmd.Context(), table, id)
		if err != nil {
			return err
		}
		return outputAsJSON(cmd, rec)
	}
	printSuccess(cmd.OutOrStdout(), "Updated %s #%d; change queued for sync", table, id)
	return nil
}

func runDelete(table wardsync.Table) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id, err := parseLocalID(args[0])
		if err != nil {
			return err
		}
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.Delete(cmd.Context(), table, id); err != nil {
			return fmt.Errorf("delete %s #%d: %w", table, id, err)
		}
		if outputJSON {
			return outputAsJSON(cmd, map[string]interface{}{"table": table, "local_id": id, "deleted": true})
		}
		printSuccess(cmd.OutOrStdout(), "Deleted %s #%d; removal queued for sync", table, id)
		return nil
	}
}
