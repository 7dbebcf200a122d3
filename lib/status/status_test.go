package status

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTrackerLifecycle(t *testing.T) {
	tr := NewTracker("run-1", "submit", "download")

	snap := tr.Snapshot()
	require.Equal(t, "run-1", snap.RunID)
	require.Len(t, snap.Steps, 2)
	require.Equal(t, StepPending, snap.Steps[0].State)

	tr.Start("submit", 23)
	tr.Progress("submit", 10, 23)
	snap = tr.Snapshot()
	require.Equal(t, StepRunning, snap.Steps[0].State)
	require.Equal(t, 10, snap.Steps[0].Done)
	require.Equal(t, 23, snap.Steps[0].Total)

	tr.Complete("submit")
	tr.Start("download", 92)
	tr.Fail("download", errors.New("grid is empty"))
	snap = tr.Snapshot()
	require.Equal(t, StepCompleted, snap.Steps[0].State)
	require.Equal(t, StepFailed, snap.Steps[1].State)
	require.Equal(t, "grid is empty", snap.Steps[1].LastError)
}

func TestHandlerServesStatus(t *testing.T) {
	tr := NewTracker("run-7", "submit")
	tr.Start("submit", 5)
	tr.Progress("submit", 3, 5)

	srv := httptest.NewServer(Handler(tr))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var snap Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	require.Equal(t, "run-7", snap.RunID)
	require.Len(t, snap.Steps, 1)
	require.Equal(t, 3, snap.Steps[0].Done)

	health, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	health.Body.Close()
	require.Equal(t, http.StatusOK, health.StatusCode)
}
