package incidents

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pulsewatch/pulsewatch/internal/domain"
)

func TestVisible(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		ts := now.Add(d)
		return &ts
	}

	cases := []struct {
		name     string
		incident domain.Incident
		want     bool
	}{
		{
			name: "active is always visible",
			incident: domain.Incident{
				Status:    domain.IncidentStatusActive,
				StartedAt: now.Add(-30 * 24 * time.Hour),
			},
			want: true,
		},
		{
			name: "active visible even if just opened",
			incident: domain.Incident{
				Status:    domain.IncidentStatusActive,
				StartedAt: now,
			},
			want: true,
		},
		{
			name: "resolved within five minutes is hidden",
			incident: domain.Incident{
				Status:     domain.IncidentStatusResolved,
				StartedAt:  now.Add(-time.Hour),
				ResolvedAt: at(-time.Hour + 5*time.Minute),
			},
			want: false,
		},
		{
			name: "resolved after more than five minutes is visible",
			incident: domain.Incident{
				Status:     domain.IncidentStatusResolved,
				StartedAt:  now.Add(-time.Hour),
				ResolvedAt: at(-time.Hour + 5*time.Minute + time.Second),
			},
			want: true,
		},
		{
			name: "resolved without timestamp measures against now",
			incident: domain.Incident{
				Status:    domain.IncidentStatusResolved,
				StartedAt: now.Add(-10 * time.Minute),
			},
			want: true,
		},
		{
			name: "resolved without timestamp and recent start is hidden",
			incident: domain.Incident{
				Status:    domain.IncidentStatusResolved,
				StartedAt: now.Add(-2 * time.Minute),
			},
			want: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Visible(&tc.incident, now))
		})
	}
}

func TestFilterVisible_PreservesOrder(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	early := now.Add(-time.Hour)
	blip := now.Add(-time.Hour + time.Minute)

	incidents := []domain.Incident{
		{ID: "a", Status: domain.IncidentStatusActive, StartedAt: now},
		{ID: "b", Status: domain.IncidentStatusResolved, StartedAt: early, ResolvedAt: &blip},
		{ID: "c", Status: domain.IncidentStatusActive, StartedAt: early},
	}

	visible := FilterVisible(incidents, now)
	ids := make([]string, 0, len(visible))
	for _, incident := range visible {
		ids = append(ids, incident.ID)
	}
	assert.Equal(t, []string{"a", "c"}, ids)
}
