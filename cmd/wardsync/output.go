package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hyperengineering/wardsync"
	"github.com/spf13/cobra"
)

// outputAsJSON writes v as indented JSON to the command's stdout.
func outputAsJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError prints err to w with the API key redacted.
func outputError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %s\n", scrubSensitiveData(err.Error()))
}

func scrubSensitiveData(msg string) string {
	if cfgAPIKey != "" && strings.Contains(msg, cfgAPIKey) {
		msg = strings.ReplaceAll(msg, cfgAPIKey, "[REDACTED]")
	}
	return msg
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return fmt.Sprintf("%s (%s)", t.Local().Format(time.DateTime), formatRelativeTime(t))
}

// formatRelativeTime renders t as "just now", "5 minutes ago", "3 days ago".
func formatRelativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d.Minutes()), "minute") + " ago"
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour") + " ago"
	default:
		return plural(int(d.Hours()/24), "day") + " ago"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func serverRef(id string) string {
	if id == "" {
		return "-"
	}
	return id
}

func outputPatient(cmd *cobra.Command, p *wardsync.Patient) error {
	if outputJSON {
		return outputAsJSON(cmd, p)
	}
	out := cmd.OutOrStdout()
	printSuccess(out, "Patient #%d %s", p.LocalID, p.Name)
	printField(out, 10, "Server:", serverRef(p.ServerID))
	printField(out, 10, "Sync:", syncBadge(p.Synced))
	return nil
}

func outputPlan(cmd *cobra.Command, tp *wardsync.TreatmentPlan) error {
	if outputJSON {
		return outputAsJSON(cmd, tp)
	}
	out := cmd.OutOrStdout()
	printSuccess(out, "Plan #%d %s (%s)", tp.LocalID, tp.Title, tp.Status)
	printField(out, 10, "Patient:", fmt.Sprintf("#%d", tp.PatientLocalID))
	printField(out, 10, "Sync:", syncBadge(tp.Synced))
	return nil
}

func outputStep(cmd *cobra.Command, ps *wardsync.PlanStep) error {
	if outputJSON {
		return outputAsJSON(cmd, ps)
	}
	out := cmd.OutOrStdout()
	printSuccess(out, "Step #%d (plan #%d, step %d, %s)", ps.LocalID, ps.PlanLocalID, ps.StepNumber, ps.Status)
	printField(out, 10, "Sync:", syncBadge(ps.Synced))
	return nil
}

// patientChart is the JSON form of `patient show`.
type patientChart struct {
	Patient *wardsync.Patient `json:"patient"`
	Plans   []planWithSteps   `json:"plans"`
}

type planWithSteps struct {
	*wardsync.TreatmentPlan
	Steps []*wardsync.PlanStep `json:"steps"`
}

func outputChart(cmd *cobra.Command, chart patientChart) error {
	if outputJSON {
		return outputAsJSON(cmd, chart)
	}

	out := cmd.OutOrStdout()
	p := chart.Patient
	printInfo(out, "Patient #%d %s", p.LocalID, p.Name)
	printField(out, 10, "MRN:", orDash(p.MRN))
	printField(out, 10, "DOB:", orDash(p.DateOfBirth))
	printField(out, 10, "Sex:", orDash(p.Sex))
	printField(out, 10, "Server:", serverRef(p.ServerID))
	printField(out, 10, "Sync:", syncBadge(p.Synced))
	if p.Notes != "" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderMarkdown(p.Notes))
	}

	if len(chart.Plans) == 0 {
		fmt.Fprintln(out)
		printMuted(out, "No treatment plans.")
		return nil
	}
	for _, tp := range chart.Plans {
		fmt.Fprintln(out)
		printInfo(out, "Plan #%d %s [%s] %s", tp.LocalID, tp.Title, tp.Status, syncBadge(tp.Synced))
		if tp.Diagnosis != "" {
			fmt.Fprintf(out, "    %s\n", renderMarkdown(tp.Diagnosis))
		}
		for _, s := range tp.Steps {
			due := ""
			if s.DueDate != "" {
				due = " due " + s.DueDate
			}
			fmt.Fprintf(out, "    %d. %s [%s]%s %s\n", s.StepNumber, s.Description, s.Status, due, syncBadge(s.Synced))
		}
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func outputPatients(cmd *cobra.Command, patients []*wardsync.Patient) error {
	if outputJSON {
		if patients == nil {
			patients = []*wardsync.Patient{}
		}
		return outputAsJSON(cmd, patients)
	}

	out := cmd.OutOrStdout()
	if len(patients) == 0 {
		printWarning(out, "No patients recorded.")
		printMuted(out, "Add one with: wardsync patient add --name <name>")
		return nil
	}

	fmt.Fprintf(out, "%-6s %-30s %-12s %-14s %s\n", "ID", "NAME", "MRN", "SERVER", "SYNC")
	fmt.Fprintf(out, "%-6s %-30s %-12s %-14s %s\n", strings.Repeat("-", 6), strings.Repeat("-", 30),
		strings.Repeat("-", 12), strings.Repeat("-", 14), strings.Repeat("-", 9))
	for _, p := range patients {
		name := p.Name
		if len(name) > 30 {
			name = name[:27] + "..."
		}
		fmt.Fprintf(out, "%-6d %-30s %-12s %-14s %s\n", p.LocalID, name, orDash(p.MRN), serverRef(p.ServerID), syncBadge(p.Synced))
	}
	return nil
}

func outputPassResult(cmd *cobra.Command, r *wardsync.PassResult, took time.Duration) error {
	if outputJSON {
		return outputAsJSON(cmd, r)
	}

	out := cmd.OutOrStdout()
	if r.Failed == 0 {
		printSuccess(out, "Sync complete (took %s)", took.Round(time.Millisecond))
	} else {
		printWarning(out, "Sync finished with %d failures (took %s)", r.Failed, took.Round(time.Millisecond))
	}
	printField(out, 11, "Succeeded:", r.Succeeded)
	if r.Skipped > 0 {
		printField(out, 11, "Skipped:", r.Skipped)
	}
	if r.Deferred > 0 {
		printField(out, 11, "Deferred:", r.Deferred)
	}
	if r.Evicted > 0 {
		printField(out, 11, "Evicted:", r.Evicted)
		printMuted(out, "See them with: wardsync stuck")
	}
	for _, e := range r.Errors {
		printError(out, "%s", scrubSensitiveData(e))
	}
	return nil
}

func outputStatus(cmd *cobra.Command, st *wardsync.SyncStatus, stats *wardsync.StoreStats, health *wardsync.HealthStatus) error {
	if outputJSON {
		return outputAsJSON(cmd, struct {
			*wardsync.SyncStatus
			Stats  *wardsync.StoreStats   `json:"stats"`
			Health *wardsync.HealthStatus `json:"health,omitempty"`
		}{st, stats, health})
	}

	out := cmd.OutOrStdout()
	mode := "online"
	switch {
	case st.OfflineOnly:
		mode = "offline only (no records service configured)"
	case !st.Online:
		mode = "offline"
	}
	printInfo(out, "WardSync status")
	printField(out, 16, "Connectivity:", mode)
	printField(out, 16, "Pending:", st.Pending)
	printField(out, 16, "Stuck:", st.Stuck)
	printField(out, 16, "Last sync:", formatTimestamp(st.LastSync))
	printField(out, 16, "Patients:", stats.Patients)
	printField(out, 16, "Plans:", stats.Plans)
	printField(out, 16, "Steps:", stats.Steps)
	printField(out, 16, "Unsynced:", stats.Unsynced)
	printField(out, 16, "Schema version:", stats.SchemaVersion)

	if st.Stuck > 0 {
		fmt.Fprintln(out)
		printWarning(out, "%d changes need attention. Inspect with: wardsync stuck", st.Stuck)
	}

	if health != nil {
		fmt.Fprintln(out)
		printInfo(out, "Health")
		state := "healthy"
		if !health.Healthy {
			state = "unhealthy"
		}
		printField(out, 16, "Status:", state)
		printField(out, 16, "Store OK:", health.StoreOK)
		printField(out, 16, "Remote reachable:", health.RemoteReachable)
		if health.Error != "" {
			printField(out, 16, "Error:", scrubSensitiveData(health.Error))
		}
	}
	return nil
}

func describeMutation(m wardsync.Mutation) string {
	return fmt.Sprintf("%s %s #%d", m.Action, m.Table, m.TargetLocalID)
}

func outputPending(cmd *cobra.Command, pending []wardsync.Mutation) error {
	if outputJSON {
		if pending == nil {
			pending = []wardsync.Mutation{}
		}
		return outputAsJSON(cmd, pending)
	}

	out := cmd.OutOrStdout()
	if len(pending) == 0 {
		printSuccess(out, "Queue is empty. Everything is synced.")
		return nil
	}

	printInfo(out, "Pending changes (%d), in push order:", len(pending))
	fmt.Fprintln(out)
	for _, m := range pending {
		line := fmt.Sprintf("  %-6d %-36s queued %s", m.QueueID, describeMutation(m), formatRelativeTime(m.EnqueuedAt))
		if m.RetryCount > 0 || m.DependencyWaits > 0 {
			line += fmt.Sprintf("  retries=%d waits=%d", m.RetryCount, m.DependencyWaits)
		}
		fmt.Fprintln(out, line)
		if m.LastError != "" {
			printMuted(out, "         last error: %s", scrubSensitiveData(m.LastError))
		}
	}
	return nil
}

func outputStuck(cmd *cobra.Command, failures []wardsync.Failure) error {
	if outputJSON {
		if failures == nil {
			failures = []wardsync.Failure{}
		}
		return outputAsJSON(cmd, failures)
	}

	out := cmd.OutOrStdout()
	if len(failures) == 0 {
		printSuccess(out, "No stuck changes.")
		return nil
	}

	printWarning(out, "Stuck changes (%d). These records stay unsynced until requeued:", len(failures))
	fmt.Fprintln(out)
	for _, f := range failures {
		fmt.Fprintf(out, "  [%d] %s %s #%d  %s after %d attempts, %s\n",
			f.ID, f.Action, f.Table, f.TargetLocalID, f.Reason, f.RetryCount, formatRelativeTime(f.EvictedAt))
		if f.LastError != "" {
			printMuted(out, "      %s", scrubSensitiveData(f.LastError))
		}
	}
	fmt.Fprintln(out)
	printMuted(out, "Retry one with: wardsync requeue <id>")
	return nil
}
