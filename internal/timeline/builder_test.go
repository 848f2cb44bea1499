package timeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsewatch/pulsewatch/internal/domain"
)

type mockIncidentSource struct {
	incidents []domain.Incident
	updates   map[string][]domain.IncidentUpdate
}

func (m *mockIncidentSource) ListIncidentsSince(_ context.Context, organizationID string, since time.Time) ([]domain.Incident, error) {
	result := make([]domain.Incident, 0)
	for _, incident := range m.incidents {
		if incident.OrganizationID == organizationID && !incident.CreatedAt.Before(since) {
			result = append(result, incident)
		}
	}
	return result, nil
}

func (m *mockIncidentSource) ListIncidentUpdatesSince(_ context.Context, organizationID string, since time.Time) ([]domain.IncidentUpdate, error) {
	orgOf := make(map[string]string)
	for _, incident := range m.incidents {
		orgOf[incident.ID] = incident.OrganizationID
	}

	result := make([]domain.IncidentUpdate, 0)
	for incidentID, updates := range m.updates {
		if orgOf[incidentID] != organizationID {
			continue
		}
		for _, update := range updates {
			if !update.CreatedAt.Before(since) {
				result = append(result, update)
			}
		}
	}
	return result, nil
}

type mockDirectory struct {
	services map[string]string
	users    map[string]string
}

func (m *mockDirectory) GetServiceByID(_ context.Context, id string) (*domain.Service, error) {
	name, ok := m.services[id]
	if !ok {
		return nil, errors.New("service not found")
	}
	return &domain.Service{ID: id, Name: name}, nil
}

func (m *mockDirectory) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	name, ok := m.users[id]
	if !ok {
		return nil, errors.New("user not found")
	}
	return &domain.User{ID: id, Name: name}, nil
}

func TestBuilder_Build_OrdersEntriesNewestFirst(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	t0 := now.Add(-3 * time.Hour)
	t1 := now.Add(-2 * time.Hour)
	t2 := now.Add(-1 * time.Hour)

	source := &mockIncidentSource{
		incidents: []domain.Incident{{
			ID:             "inc-1",
			OrganizationID: "org-1",
			Title:          "Elevated error rates",
			Description:    "API returning 500s",
			Severity:       domain.SeverityMajor,
			Status:         domain.IncidentStatusResolved,
			StartedAt:      t0,
			CreatedAt:      t0,
			ResolvedAt:     &t2,
			CreatedBy:      "user-1",
			ServiceIDs:     []string{"s1"},
		}},
		updates: map[string][]domain.IncidentUpdate{
			"inc-1": {{
				ID:          "upd-1",
				IncidentID:  "inc-1",
				Message:     "Rolling back deploy",
				StatusLabel: "identified",
				CreatedBy:   "user-2",
				CreatedAt:   t1,
			}},
		},
	}
	directory := &mockDirectory{
		services: map[string]string{"s1": "API"},
		users:    map[string]string{"user-1": "Alex", "user-2": "Sam"},
	}

	builder := NewBuilder(source, directory, directory)
	entries, err := builder.Build(context.Background(), "org-1", 7, now)
	require.NoError(t, err)

	require.Len(t, entries, 3)

	assert.Equal(t, EntryIncidentResolved, entries[0].Type)
	assert.Equal(t, t2, entries[0].Timestamp)
	assert.Equal(t, []string{"API"}, entries[0].ServiceNames)

	assert.Equal(t, EntryIncidentUpdate, entries[1].Type)
	assert.Equal(t, t1, entries[1].Timestamp)
	assert.Equal(t, "Rolling back deploy", entries[1].Message)
	assert.Equal(t, "identified", entries[1].StatusLabel)
	assert.Equal(t, "Sam", entries[1].Actor)

	assert.Equal(t, EntryIncidentCreated, entries[2].Type)
	assert.Equal(t, t0, entries[2].Timestamp)
	assert.Equal(t, "Elevated error rates", entries[2].Title)
	assert.Equal(t, domain.SeverityMajor, entries[2].Severity)
	assert.Equal(t, "Alex", entries[2].Actor)
	assert.Equal(t, []string{"API"}, entries[2].ServiceNames)
}

func TestBuilder_Build_RespectsLookbackWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	source := &mockIncidentSource{
		incidents: []domain.Incident{
			{
				ID:             "recent",
				OrganizationID: "org-1",
				Status:         domain.IncidentStatusActive,
				CreatedAt:      now.Add(-24 * time.Hour),
			},
			{
				ID:             "ancient",
				OrganizationID: "org-1",
				Status:         domain.IncidentStatusActive,
				CreatedAt:      now.Add(-30 * 24 * time.Hour),
			},
		},
		updates: map[string][]domain.IncidentUpdate{},
	}
	directory := &mockDirectory{services: map[string]string{}, users: map[string]string{}}

	builder := NewBuilder(source, directory, directory)
	entries, err := builder.Build(context.Background(), "org-1", 7, now)
	require.NoError(t, err)

	require.Len(t, entries, 1)
	assert.Equal(t, "recent", entries[0].IncidentID)
}

func TestBuilder_Build_IgnoresUpdatesOfOutOfWindowIncidents(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	source := &mockIncidentSource{
		incidents: []domain.Incident{{
			ID:             "ancient",
			OrganizationID: "org-1",
			Status:         domain.IncidentStatusActive,
			CreatedAt:      now.Add(-30 * 24 * time.Hour),
		}},
		updates: map[string][]domain.IncidentUpdate{
			// Fresh note on an old incident: the batched query returns it,
			// the builder must not surface it without its incident.
			"ancient": {{
				ID:         "upd-1",
				IncidentID: "ancient",
				Message:    "still flapping",
				CreatedAt:  now.Add(-time.Hour),
			}},
		},
	}
	directory := &mockDirectory{services: map[string]string{}, users: map[string]string{}}

	builder := NewBuilder(source, directory, directory)
	entries, err := builder.Build(context.Background(), "org-1", 7, now)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBuilder_Build_DefaultsLookback(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	source := &mockIncidentSource{
		incidents: []domain.Incident{{
			ID:             "inc-1",
			OrganizationID: "org-1",
			Status:         domain.IncidentStatusActive,
			CreatedAt:      now.Add(-6 * 24 * time.Hour),
		}},
		updates: map[string][]domain.IncidentUpdate{},
	}
	directory := &mockDirectory{services: map[string]string{}, users: map[string]string{}}

	builder := NewBuilder(source, directory, directory)
	entries, err := builder.Build(context.Background(), "org-1", 0, now)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestBuilder_Build_ToleratesDanglingReferences(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	source := &mockIncidentSource{
		incidents: []domain.Incident{{
			ID:             "inc-1",
			OrganizationID: "org-1",
			Status:         domain.IncidentStatusActive,
			CreatedAt:      now.Add(-time.Hour),
			CreatedBy:      "gone-user",
			ServiceIDs:     []string{"gone-service", "s1"},
		}},
		updates: map[string][]domain.IncidentUpdate{},
	}
	directory := &mockDirectory{
		services: map[string]string{"s1": "API"},
		users:    map[string]string{},
	}

	builder := NewBuilder(source, directory, directory)
	entries, err := builder.Build(context.Background(), "org-1", 7, now)
	require.NoError(t, err)

	require.Len(t, entries, 1)
	assert.Equal(t, []string{"API"}, entries[0].ServiceNames)
	assert.Empty(t, entries[0].Actor)
}
