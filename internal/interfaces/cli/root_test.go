package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args against the given server and
// returns captured stdout.
func execute(t *testing.T, serverURL string, args ...string) (string, error) {
	t.Helper()

	root := NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--server", serverURL}, args...))

	err := root.Execute()
	return out.String(), err
}

func envelopeHandler(t *testing.T, wantPath string, data interface{}) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, wantPath, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(map[string]interface{}{
			"success":   true,
			"data":      data,
			"timestamp": time.Now().UTC(),
		})
		require.NoError(t, err)
	}
}

func TestFormatTable(t *testing.T) {
	out := FormatTable(
		[]string{"ID", "NAME"},
		[][]string{
			{"t1", "subject line"},
			{"t2", "cta"},
		},
	)

	assert.Contains(t, out, "ID  NAME")
	assert.Contains(t, out, "--  ------------")
	assert.Contains(t, out, "t1  subject line")
	assert.Contains(t, out, "t2  cta")
}

func TestFormatTableEmptyHeaders(t *testing.T) {
	assert.Empty(t, FormatTable(nil, [][]string{{"x"}}))
}

func TestGetCLIContextMissing(t *testing.T) {
	cmd := &cobra.Command{}
	_, err := GetCLIContext(cmd)
	assert.Error(t, err)
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := NewRootCommand()

	names := make(map[string]bool)
	for _, sub := range root.Commands() {
		names[sub.Name()] = true
	}

	for _, want := range []string{"tests", "events", "queue", "dispatch", "health"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestTestsListRendersTable(t *testing.T) {
	srv := httptest.NewServer(envelopeHandler(t, "/api/v1/tests", map[string]interface{}{
		"tests": []map[string]interface{}{
			{
				"id":           "t1",
				"name":         "subject line",
				"type":         "opener",
				"status":       "active",
				"variants":     []map[string]interface{}{{"id": "v1"}, {"id": "v2"}},
				"target_count": 100,
				"created_at":   "2026-03-02T12:00:00Z",
			},
		},
		"pagination": map[string]interface{}{"page": 1, "page_size": 20, "total": 1},
	}))
	defer srv.Close()

	out, err := execute(t, srv.URL, "tests", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "t1")
	assert.Contains(t, out, "subject line")
	assert.Contains(t, out, "active")
}

func TestTestsGetJSONOutput(t *testing.T) {
	srv := httptest.NewServer(envelopeHandler(t, "/api/v1/tests/t1", map[string]interface{}{
		"id":     "t1",
		"name":   "subject line",
		"status": "draft",
	}))
	defer srv.Close()

	out, err := execute(t, srv.URL, "tests", "get", "t1", "-o", "json")
	require.NoError(t, err)

	var decoded struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "t1", decoded.ID)
	assert.Equal(t, "draft", decoded.Status)
}

func TestQueueStatsRendersAccounts(t *testing.T) {
	srv := httptest.NewServer(envelopeHandler(t, "/api/v1/queue/stats", map[string]interface{}{
		"accounts": map[string]interface{}{
			"acct-1": map[string]interface{}{
				"account_key": "acct-1",
				"depth":       map[string]int{"normal": 3},
				"in_flight":   1,
				"sent_today":  12,
				"daily_limit": 50,
				"remaining":   38,
			},
		},
		"total_depth": 3,
		"in_flight":   1,
	}))
	defer srv.Close()

	out, err := execute(t, srv.URL, "queue", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "acct-1")
	assert.Contains(t, out, "38")
}

func TestDispatchSkippedMessage(t *testing.T) {
	srv := httptest.NewServer(envelopeHandler(t, "/api/v1/dispatch", map[string]interface{}{
		"skipped": true,
	}))
	defer srv.Close()

	out, err := execute(t, srv.URL, "dispatch",
		"--test", "t1", "--contact", "c1", "--account", "acct-1", "--recipient", "a@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "skipped")
}

func TestHealthCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/readyz", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	out, err := execute(t, srv.URL, "health")
	require.NoError(t, err)
	assert.Contains(t, out, "healthy")
}

func TestHealthCommandUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := execute(t, srv.URL, "health")
	assert.Error(t, err)
}

func TestEventsRecordRequiresFlags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("server should not be called")
	}))
	defer srv.Close()

	_, err := execute(t, srv.URL, "events", "record", "--test", "t1")
	assert.Error(t, err)
}
