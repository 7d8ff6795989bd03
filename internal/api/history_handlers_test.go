package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/mediaflow/internal/models"
)

func TestHistoryHandlers(t *testing.T) {
	env := setupTestServer(t)
	st := env.app.Store()
	_, err := st.RecordOutcome(models.JobOutcome{JobID: "a", Kind: models.JobKindDownload, Locator: "https://example.com/a", Status: models.JobStatusFinished})
	require.NoError(t, err)
	id, err := st.RecordOutcome(models.JobOutcome{JobID: "b", Kind: models.JobKindDownload, Locator: "https://example.com/b", Status: models.JobStatusFailed, ErrorKind: "no_result_found"})
	require.NoError(t, err)

	rr := env.do(t, "GET", "/api/history", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var all []models.HistoryEntry
	decode(t, rr, &all)
	assert.Len(t, all, 2)

	rr = env.do(t, "GET", "/api/history?status=failed", nil)
	var failed []models.HistoryEntry
	decode(t, rr, &failed)
	require.Len(t, failed, 1)
	assert.Equal(t, "b", failed[0].Outcome.JobID)

	rr = env.do(t, "PUT", fmt.Sprintf("/api/history/%d/summary", id), map[string]string{"summary": "Source was private."})
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, "PUT", "/api/history/9999/summary", map[string]string{"summary": "x"})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, "PUT", "/api/history/abc/summary", map[string]string{"summary": "x"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
