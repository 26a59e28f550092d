package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEnv points the CLI at a temporary database and resets flag globals,
// which cobra keeps between Execute calls in one process.
func testEnv(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "ward.db")
	t.Setenv("WARDSYNC_HOME", dir)
	t.Setenv("WARDSYNC_DB_PATH", dbPath)
	t.Setenv("WARDSYNC_PROFILE", "")
	t.Setenv("WARDSYNC_SERVER_URL", "")
	t.Setenv("WARDSYNC_API_KEY", "")
	t.Setenv("WARDSYNC_OFFLINE", "")

	reset := func() {
		cfgDBPath, cfgProfile, cfgServerURL, cfgAPIKey, cfgFile = "", "", "", "", ""
		cfgOffline, cfgDebug, outputJSON = false, false, false
		patientName, patientMRN, patientDOB, patientSex, patientNotes = "", "", "", "", ""
		statusHealth = false
		exportOut = ""
		syncTimeout = 60 * time.Second
	}
	reset()
	t.Cleanup(reset)
	return dbPath
}

// execute runs the CLI with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), err
}

func TestCLI_Help_ListsAllCommands(t *testing.T) {
	testEnv(t)

	out, err := execute(t, "--help")
	require.NoError(t, err)
	for _, cmd := range []string{"patient", "plan", "step", "sync", "status", "pending", "stuck", "requeue", "export", "profile", "mcp", "version"} {
		assert.Contains(t, out, cmd, "--help should list %q", cmd)
	}
}

func TestCLI_PatientAdd_JSON(t *testing.T) {
	testEnv(t)

	out, err := execute(t, "--json", "patient", "add", "--name", "Jane Doe", "--mrn", "00123")
	require.NoError(t, err)

	var p map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, "Jane Doe", p["name"])
	assert.Equal(t, "00123", p["mrn"])
	assert.Equal(t, false, p["synced"])
	assert.Equal(t, float64(1), p["local_id"])
}

func TestCLI_PatientAdd_RequiresName(t *testing.T) {
	testEnv(t)

	_, err := execute(t, "patient", "add", "--mrn", "00123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name")
}

func TestCLI_WritesAreQueued(t *testing.T) {
	testEnv(t)

	_, err := execute(t, "patient", "add", "--name", "Jane Doe")
	require.NoError(t, err)
	_, err = execute(t, "plan", "add", "--patient", "1", "--title", "Post-op care")
	require.NoError(t, err)
	_, err = execute(t, "step", "add", "--plan", "1", "--number", "1", "--description", "Change dressing")
	require.NoError(t, err)

	outputJSON = true
	out, err := execute(t, "pending")
	require.NoError(t, err)

	var pending []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &pending))
	require.Len(t, pending, 3)
	assert.Equal(t, "patients", pending[0]["table"])
	assert.Equal(t, "treatment_plans", pending[1]["table"])
	assert.Equal(t, "plan_steps", pending[2]["table"])
}

func TestCLI_PatientShow_Chart(t *testing.T) {
	testEnv(t)

	_, err := execute(t, "patient", "add", "--name", "Jane Doe")
	require.NoError(t, err)
	_, err = execute(t, "plan", "add", "--patient", "1", "--title", "Post-op care")
	require.NoError(t, err)

	out, err := execute(t, "--json", "patient", "show", "1")
	require.NoError(t, err)

	var chart struct {
		Patient map[string]any   `json:"patient"`
		Plans   []map[string]any `json:"plans"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &chart))
	assert.Equal(t, "Jane Doe", chart.Patient["name"])
	require.Len(t, chart.Plans, 1)
	assert.Equal(t, "Post-op care", chart.Plans[0]["title"])
}

func TestCLI_PatientShow_NotFound(t *testing.T) {
	testEnv(t)

	_, err := execute(t, "patient", "show", "99")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "#99")
}

func TestCLI_InvalidID(t *testing.T) {
	testEnv(t)

	_, err := execute(t, "patient", "delete", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "positive integer")
}

func TestCLI_Status_JSON(t *testing.T) {
	testEnv(t)

	_, err := execute(t, "patient", "add", "--name", "Jane Doe")
	require.NoError(t, err)

	out, err := execute(t, "--json", "status")
	require.NoError(t, err)

	var st map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, float64(1), st["pending"])
	assert.Equal(t, true, st["offline_only"])
	stats, ok := st["stats"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), stats["patients"])
}

func TestCLI_Sync_NoServer(t *testing.T) {
	testEnv(t)

	_, err := execute(t, "sync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no records service configured")
}

func TestCLI_Sync_PushesQueue(t *testing.T) {
	testEnv(t)

	var created atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v1/health":
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		case r.Method == http.MethodPost:
			n := created.Add(1)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]string{"id": fmt.Sprintf("srv_%d", n)})
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	_, err := execute(t, "patient", "add", "--name", "Jane Doe")
	require.NoError(t, err)
	_, err = execute(t, "plan", "add", "--patient", "1", "--title", "Post-op care")
	require.NoError(t, err)

	out, err := execute(t, "--json", "--server-url", srv.URL, "--api-key", "test-key", "sync")
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, float64(2), result["succeeded"])
	assert.Equal(t, float64(0), result["failed"])
	assert.Equal(t, int64(2), created.Load())

	outputJSON = false
	out, err = execute(t, "pending")
	require.NoError(t, err)
	assert.Contains(t, out, "Queue is empty")
}

func TestCLI_APIKey_NeverInOutput(t *testing.T) {
	testEnv(t)

	cfgAPIKey = "super-secret-key"
	var buf bytes.Buffer
	outputError(&buf, assert.AnError)
	outputError(&buf, &testError{msg: "auth failed with super-secret-key"})
	assert.NotContains(t, buf.String(), "super-secret-key")
	assert.Contains(t, buf.String(), "[REDACTED]")
}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestCLI_StuckAndRequeue(t *testing.T) {
	testEnv(t)

	out, err := execute(t, "stuck")
	require.NoError(t, err)
	assert.Contains(t, out, "No stuck changes.")

	_, err = execute(t, "requeue", "7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no stuck change with id 7")
}

func TestCLI_ExportDiagnostics(t *testing.T) {
	testEnv(t)

	_, err := execute(t, "patient", "add", "--name", "Jane Doe")
	require.NoError(t, err)

	out, err := execute(t, "export", "diagnostics")
	require.NoError(t, err)

	var diag map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &diag), "diagnostics must be JSON: %s", out)
	assert.Contains(t, out, "Jane Doe")
}

func TestCLI_ExportBackup_RefusesExisting(t *testing.T) {
	dbPath := testEnv(t)

	_, err := execute(t, "patient", "add", "--name", "Jane Doe")
	require.NoError(t, err)

	dest := filepath.Join(filepath.Dir(dbPath), "backup.db")
	_, err = execute(t, "export", "backup", dest)
	require.NoError(t, err)
	_, statErr := os.Stat(dest)
	require.NoError(t, statErr)

	_, err = execute(t, "export", "backup", dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestCLI_ProfileList(t *testing.T) {
	testEnv(t)
	t.Setenv("WARDSYNC_DB_PATH", "")

	out, err := execute(t, "--profile", "clinic-north", "patient", "add", "--name", "Jane Doe")
	require.NoError(t, err, out)

	cfgProfile = ""
	out, err = execute(t, "--json", "profile", "list")
	require.NoError(t, err)

	var result ProfileListResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Equal(t, 1, result.Total)
	assert.Equal(t, "clinic-north", result.Profiles[0].ID)
	assert.Equal(t, 1, result.Profiles[0].Patients)
	assert.Equal(t, 1, result.Profiles[0].Pending)
}

func TestCLI_Version_JSON(t *testing.T) {
	testEnv(t)

	out, err := execute(t, "--json", "version")
	require.NoError(t, err)

	var info versionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "dev", info.Version)
	assert.True(t, strings.HasPrefix(info.Go, "go"))
}
