//go:build integration

package integration

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsewatch/pulsewatch/internal/testutil"
)

type timelineEntry struct {
	Type         string    `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	IncidentID   string    `json:"incident_id"`
	Title        string    `json:"title"`
	Message      string    `json:"message"`
	Status       string    `json:"status"`
	Actor        string    `json:"actor"`
	ServiceNames []string  `json:"service_names"`
}

func getTimeline(t *testing.T, client *testutil.Client, query string) []timelineEntry {
	t.Helper()

	resp, err := client.GET("/api/timeline" + query)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data []timelineEntry `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}

func TestTimeline_TracksIncidentLifecycle(t *testing.T) {
	f := setupOrganization(t)

	s1 := createTestService(t, f.Admin, "Timeline Svc")
	id := createTestIncident(t, f.Admin, "Timeline incident", "major", []string{s1})

	resp, err := f.Admin.POST("/api/incidents/"+id+"/updates", map[string]interface{}{
		"message": "Investigating",
		"status":  "investigating",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()

	resolveIncident(t, f.Admin, id)

	entries := getTimeline(t, f.Admin, "")
	require.Len(t, entries, 3)

	// Newest first: resolution, then the progress note, then the opening.
	assert.Equal(t, "incident_resolved", entries[0].Type)
	assert.Equal(t, "incident_update", entries[1].Type)
	assert.Equal(t, "incident_created", entries[2].Type)

	for _, e := range entries {
		assert.Equal(t, id, e.IncidentID)
		assert.False(t, e.Timestamp.IsZero())
	}

	assert.Equal(t, []string{"Timeline Svc"}, entries[2].ServiceNames)
	assert.Equal(t, "Timeline incident", entries[2].Title)
	assert.Equal(t, "Investigating", entries[1].Message)
	assert.Equal(t, "Org Admin", entries[1].Actor)
	assert.False(t, entries[0].Timestamp.Before(entries[1].Timestamp))
	assert.False(t, entries[1].Timestamp.Before(entries[2].Timestamp))
}

func TestTimeline_LookbackWindowExcludesOldIncidents(t *testing.T) {
	f := setupOrganization(t)

	s1 := createTestService(t, f.Admin, "Old Svc")
	id := createTestIncident(t, f.Admin, "Ancient incident", "minor", []string{s1})

	// Push the incident's creation outside a two-day window.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := testDB.Exec(ctx,
		`UPDATE incidents SET created_at = created_at - interval '3 days' WHERE id = $1`, id)
	require.NoError(t, err)

	assert.Empty(t, getTimeline(t, f.Admin, "?days=2"))
	assert.NotEmpty(t, getTimeline(t, f.Admin, "?days=7"))
}

func TestTimeline_RejectsInvalidDays(t *testing.T) {
	f := setupOrganization(t)

	client := f.Admin.WithoutValidation()
	resp, err := client.GET("/api/timeline?days=banana")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTimeline_ScopedToOrganization(t *testing.T) {
	f1 := setupOrganization(t)
	f2 := setupOrganization(t)

	s1 := createTestService(t, f1.Admin, "Mine")
	createTestIncident(t, f1.Admin, "My incident", "minor", []string{s1})

	assert.Empty(t, getTimeline(t, f2.Admin, ""))
	assert.NotEmpty(t, getTimeline(t, f1.Admin, ""))
}
