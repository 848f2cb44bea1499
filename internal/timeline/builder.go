// Package timeline builds the merged activity feed of an organization's
// incidents: openings, progress notes and resolutions in one
// reverse-chronological sequence.
package timeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pulsewatch/pulsewatch/internal/domain"
	"github.com/pulsewatch/pulsewatch/internal/pkg/ctxlog"
)

// DefaultLookbackDays is the window used when the caller does not specify
// one.
const DefaultLookbackDays = 7

// EntryType identifies a timeline entry.
type EntryType string

// Timeline entry types.
const (
	EntryIncidentCreated  EntryType = "incident_created"
	EntryIncidentUpdate   EntryType = "incident_update"
	EntryIncidentResolved EntryType = "incident_resolved"
)

// Entry is one item in the activity feed. Only the fields relevant to the
// entry type are populated.
type Entry struct {
	Type         EntryType       `json:"type"`
	Timestamp    time.Time       `json:"timestamp"`
	IncidentID   string          `json:"incident_id"`
	Title        string          `json:"title,omitempty"`
	Description  string          `json:"description,omitempty"`
	Severity     domain.Severity `json:"severity,omitempty"`
	Message      string          `json:"message,omitempty"`
	StatusLabel  string          `json:"status,omitempty"`
	Actor        string          `json:"actor,omitempty"`
	ServiceNames []string        `json:"service_names,omitempty"`
}

// IncidentSource is the slice of the incident store the builder reads.
// Updates come back in one batched query per build, not one per incident.
type IncidentSource interface {
	ListIncidentsSince(ctx context.Context, organizationID string, since time.Time) ([]domain.Incident, error)
	ListIncidentUpdatesSince(ctx context.Context, organizationID string, since time.Time) ([]domain.IncidentUpdate, error)
}

// ServiceDirectory resolves service names.
type ServiceDirectory interface {
	GetServiceByID(ctx context.Context, id string) (*domain.Service, error)
}

// UserDirectory resolves user names.
type UserDirectory interface {
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

// Builder assembles timelines. It holds no state between calls; every
// timeline is computed fresh.
type Builder struct {
	incidents IncidentSource
	services  ServiceDirectory
	users     UserDirectory
}

// NewBuilder creates a new timeline builder.
func NewBuilder(incidents IncidentSource, services ServiceDirectory, users UserDirectory) *Builder {
	return &Builder{incidents: incidents, services: services, users: users}
}

// Build returns the organization's timeline entries for the lookback
// window, newest first. Dangling service or user references degrade to
// missing names rather than errors.
func (b *Builder) Build(ctx context.Context, organizationID string, lookbackDays int, now time.Time) ([]Entry, error) {
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}
	since := now.AddDate(0, 0, -lookbackDays)

	incidents, err := b.incidents.ListIncidentsSince(ctx, organizationID, since)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	updates, err := b.incidents.ListIncidentUpdatesSince(ctx, organizationID, since)
	if err != nil {
		return nil, fmt.Errorf("list incident updates: %w", err)
	}

	byID := make(map[string]*domain.Incident, len(incidents))
	serviceNames := make(map[string]string)
	userNames := make(map[string]string)
	entries := make([]Entry, 0, len(incidents)*2+len(updates))

	for i := range incidents {
		incident := &incidents[i]
		byID[incident.ID] = incident
		names := b.resolveServiceNames(ctx, incident.ServiceIDs, serviceNames)

		entries = append(entries, Entry{
			Type:         EntryIncidentCreated,
			Timestamp:    incident.CreatedAt,
			IncidentID:   incident.ID,
			Title:        incident.Title,
			Description:  incident.Description,
			Severity:     incident.Severity,
			Actor:        b.resolveUserName(ctx, incident.CreatedBy, userNames),
			ServiceNames: names,
		})

		if incident.ResolvedAt != nil {
			entries = append(entries, Entry{
				Type:         EntryIncidentResolved,
				Timestamp:    *incident.ResolvedAt,
				IncidentID:   incident.ID,
				Title:        incident.Title,
				ServiceNames: names,
			})
		}
	}

	for _, update := range updates {
		// Updates to incidents opened before the window are out of scope.
		incident, ok := byID[update.IncidentID]
		if !ok {
			continue
		}
		entries = append(entries, Entry{
			Type:        EntryIncidentUpdate,
			Timestamp:   update.CreatedAt,
			IncidentID:  incident.ID,
			Title:       incident.Title,
			Message:     update.Message,
			StatusLabel: update.StatusLabel,
			Actor:       b.resolveUserName(ctx, update.CreatedBy, userNames),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})

	return entries, nil
}

func (b *Builder) resolveServiceNames(ctx context.Context, serviceIDs []string, cache map[string]string) []string {
	names := make([]string, 0, len(serviceIDs))
	for _, id := range serviceIDs {
		if name, ok := cache[id]; ok {
			if name != "" {
				names = append(names, name)
			}
			continue
		}

		service, err := b.services.GetServiceByID(ctx, id)
		if err != nil {
			// Deleted services leave dangling references; drop the name.
			ctxlog.FromContext(ctx).Debug("timeline: service name unavailable", "service_id", id, "error", err)
			cache[id] = ""
			continue
		}
		cache[id] = service.Name
		names = append(names, service.Name)
	}
	return names
}

func (b *Builder) resolveUserName(ctx context.Context, userID string, cache map[string]string) string {
	if userID == "" {
		return ""
	}
	if name, ok := cache[userID]; ok {
		return name
	}

	user, err := b.users.GetUserByID(ctx, userID)
	if err != nil {
		ctxlog.FromContext(ctx).Debug("timeline: user name unavailable", "user_id", userID, "error", err)
		cache[userID] = ""
		return ""
	}
	cache[userID] = user.Name
	return user.Name
}
