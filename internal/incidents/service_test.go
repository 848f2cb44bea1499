package incidents

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsewatch/pulsewatch/internal/domain"
	"github.com/pulsewatch/pulsewatch/internal/realtime"
	"github.com/pulsewatch/pulsewatch/internal/tenancy"
)

type mockRepository struct {
	incidents map[string]*domain.Incident
	updates   map[string][]domain.IncidentUpdate
	nextID    int
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		incidents: make(map[string]*domain.Incident),
		updates:   make(map[string][]domain.IncidentUpdate),
	}
}

func (m *mockRepository) CreateIncident(_ context.Context, incident *domain.Incident) error {
	m.nextID++
	incident.ID = fmt.Sprintf("inc-%d", m.nextID)
	incident.CreatedAt = incident.StartedAt
	copied := *incident
	m.incidents[incident.ID] = &copied
	return nil
}

func (m *mockRepository) GetIncidentByID(_ context.Context, id string) (*domain.Incident, error) {
	incident, ok := m.incidents[id]
	if !ok {
		return nil, ErrIncidentNotFound
	}
	copied := *incident
	return &copied, nil
}

func (m *mockRepository) ListIncidents(_ context.Context, organizationID string) ([]domain.Incident, error) {
	result := make([]domain.Incident, 0)
	for _, incident := range m.incidents {
		if incident.OrganizationID == organizationID {
			result = append(result, *incident)
		}
	}
	return result, nil
}

func (m *mockRepository) ListIncidentsSince(_ context.Context, organizationID string, since time.Time) ([]domain.Incident, error) {
	result := make([]domain.Incident, 0)
	for _, incident := range m.incidents {
		if incident.OrganizationID == organizationID && !incident.CreatedAt.Before(since) {
			result = append(result, *incident)
		}
	}
	return result, nil
}

func (m *mockRepository) UpdateIncident(_ context.Context, incident *domain.Incident) error {
	if _, ok := m.incidents[incident.ID]; !ok {
		return ErrIncidentNotFound
	}
	copied := *incident
	m.incidents[incident.ID] = &copied
	return nil
}

func (m *mockRepository) DeleteIncident(_ context.Context, id string) error {
	if _, ok := m.incidents[id]; !ok {
		return ErrIncidentNotFound
	}
	delete(m.incidents, id)
	return nil
}

func (m *mockRepository) HasOtherActiveIncidents(_ context.Context, serviceID, excludeIncidentID string) (bool, error) {
	for _, incident := range m.incidents {
		if incident.ID == excludeIncidentID || !incident.IsActive() {
			continue
		}
		for _, id := range incident.ServiceIDs {
			if id == serviceID {
				return true, nil
			}
		}
	}
	return false, nil
}

func (m *mockRepository) CreateIncidentUpdate(_ context.Context, update *domain.IncidentUpdate) error {
	m.nextID++
	update.ID = fmt.Sprintf("upd-%d", m.nextID)
	update.CreatedAt = time.Now()
	m.updates[update.IncidentID] = append(m.updates[update.IncidentID], *update)
	return nil
}

func (m *mockRepository) ListIncidentUpdates(_ context.Context, incidentID string) ([]domain.IncidentUpdate, error) {
	return m.updates[incidentID], nil
}

func (m *mockRepository) ListIncidentUpdatesSince(_ context.Context, organizationID string, since time.Time) ([]domain.IncidentUpdate, error) {
	result := make([]domain.IncidentUpdate, 0)
	for incidentID, updates := range m.updates {
		incident, ok := m.incidents[incidentID]
		if !ok || incident.OrganizationID != organizationID {
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

type mockCatalog struct {
	services map[string]*domain.Service
	failing  map[string]bool // lookups that error, simulating concurrent deletion
}

func newMockCatalog() *mockCatalog {
	return &mockCatalog{
		services: make(map[string]*domain.Service),
		failing:  make(map[string]bool),
	}
}

func (m *mockCatalog) add(id, orgID string) *domain.Service {
	service := &domain.Service{
		ID:             id,
		OrganizationID: orgID,
		Name:           id,
		Status:         domain.ServiceStatusOperational,
	}
	m.services[id] = service
	return service
}

func (m *mockCatalog) GetServiceByID(_ context.Context, id string) (*domain.Service, error) {
	if m.failing[id] {
		return nil, fmt.Errorf("service %s unavailable", id)
	}
	service, ok := m.services[id]
	if !ok {
		return nil, fmt.Errorf("service %s unavailable", id)
	}
	copied := *service
	return &copied, nil
}

func (m *mockCatalog) UpdateServiceStatus(_ context.Context, id string, status domain.ServiceStatus) error {
	service, ok := m.services[id]
	if !ok {
		return fmt.Errorf("service %s unavailable", id)
	}
	service.Status = status
	return nil
}

type mockOrgResolver struct {
	orgs map[string]*domain.Organization
}

func (m *mockOrgResolver) GetOrganizationBySlug(_ context.Context, slug string) (*domain.Organization, error) {
	org, ok := m.orgs[slug]
	if !ok {
		return nil, tenancy.ErrOrganizationNotFound
	}
	return org, nil
}

type mockHub struct {
	events []realtime.Event
}

func (m *mockHub) Broadcast(event realtime.Event) {
	m.events = append(m.events, event)
}

// serviceUpdates returns the service_updated events for a given service.
func (m *mockHub) serviceUpdates(serviceID string) []realtime.ServiceUpdated {
	result := make([]realtime.ServiceUpdated, 0)
	for _, event := range m.events {
		if updated, ok := event.(realtime.ServiceUpdated); ok && updated.Service.ID == serviceID {
			result = append(result, updated)
		}
	}
	return result
}

type fixture struct {
	svc     *Service
	repo    *mockRepository
	catalog *mockCatalog
	hub     *mockHub
	now     time.Time
}

func newFixture() *fixture {
	repo := newMockRepository()
	cat := newMockCatalog()
	orgs := &mockOrgResolver{orgs: map[string]*domain.Organization{
		"acme": {ID: "org-1", Name: "Acme", Slug: "acme"},
	}}
	hub := &mockHub{}

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(repo, cat, orgs, hub)
	f := &fixture{svc: svc, repo: repo, catalog: cat, hub: hub, now: now}
	svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) createIncident(t *testing.T, severity domain.Severity, serviceIDs ...string) *domain.Incident {
	t.Helper()
	incident := &domain.Incident{
		OrganizationID: "org-1",
		Title:          "Elevated error rates",
		Severity:       severity,
		ServiceIDs:     serviceIDs,
		CreatedBy:      "user-1",
	}
	require.NoError(t, f.svc.CreateIncident(context.Background(), incident))
	return incident
}

func TestService_CreateIncident_AppliesSeverityToServices(t *testing.T) {
	f := newFixture()
	f.catalog.add("s1", "org-1")

	incident := f.createIncident(t, domain.SeverityMajor, "s1")

	assert.Equal(t, domain.ServiceStatusMajorOutage, f.catalog.services["s1"].Status)
	assert.Equal(t, domain.IncidentStatusActive, incident.Status)
	assert.Equal(t, f.now, incident.StartedAt)

	require.Len(t, f.hub.events, 2)
	_, ok := f.hub.events[0].(realtime.IncidentCreated)
	assert.True(t, ok)
	updates := f.hub.serviceUpdates("s1")
	require.Len(t, updates, 1)
	assert.Equal(t, domain.ServiceStatusMajorOutage, updates[0].Service.Status)
}

func TestService_CreateIncident_SeverityMapping(t *testing.T) {
	cases := []struct {
		severity domain.Severity
		want     domain.ServiceStatus
	}{
		{domain.SeverityMinor, domain.ServiceStatusDegraded},
		{domain.SeverityMedium, domain.ServiceStatusPartialOutage},
		{domain.SeverityMajor, domain.ServiceStatusMajorOutage},
	}

	for _, tc := range cases {
		t.Run(string(tc.severity), func(t *testing.T) {
			f := newFixture()
			f.catalog.add("s1", "org-1")

			f.createIncident(t, tc.severity, "s1")
			assert.Equal(t, tc.want, f.catalog.services["s1"].Status)
		})
	}
}

func TestService_CreateIncident_DefaultsSeverityToMedium(t *testing.T) {
	f := newFixture()
	f.catalog.add("s1", "org-1")

	incident := f.createIncident(t, "", "s1")

	assert.Equal(t, domain.SeverityMedium, incident.Severity)
	assert.Equal(t, domain.ServiceStatusPartialOutage, f.catalog.services["s1"].Status)
}

func TestService_CreateIncident_WithoutServices(t *testing.T) {
	f := newFixture()
	f.catalog.add("s1", "org-1")

	incident := &domain.Incident{
		OrganizationID: "org-1",
		Title:          "Third party DNS outage",
		Severity:       domain.SeverityMajor,
		CreatedBy:      "user-1",
	}
	require.NoError(t, f.svc.CreateIncident(context.Background(), incident))

	assert.Equal(t, domain.IncidentStatusActive, incident.Status)
	// No affected services: the reconciliation pass touches nothing.
	assert.Equal(t, domain.ServiceStatusOperational, f.catalog.services["s1"].Status)

	require.Len(t, f.hub.events, 1)
	_, ok := f.hub.events[0].(realtime.IncidentCreated)
	assert.True(t, ok)
}

func TestService_CreateIncident_ResolvedOnCreateSkipsReconciliation(t *testing.T) {
	f := newFixture()
	f.catalog.add("s1", "org-1")

	incident := &domain.Incident{
		OrganizationID: "org-1",
		Title:          "Backfilled outage record",
		Severity:       domain.SeverityMajor,
		Status:         domain.IncidentStatusResolved,
		ServiceIDs:     []string{"s1"},
		CreatedBy:      "user-1",
	}
	require.NoError(t, f.svc.CreateIncident(context.Background(), incident))

	assert.Equal(t, domain.ServiceStatusOperational, f.catalog.services["s1"].Status)
	assert.Empty(t, f.hub.serviceUpdates("s1"))
}

func TestService_UpdateIncident_ClearingServicesReleasesThem(t *testing.T) {
	f := newFixture()
	f.catalog.add("s1", "org-1")

	incident := f.createIncident(t, domain.SeverityMajor, "s1")
	assert.Equal(t, domain.ServiceStatusMajorOutage, f.catalog.services["s1"].Status)

	serviceIDs := []string{}
	updated, err := f.svc.UpdateIncident(context.Background(), incident.ID, UpdateIncidentInput{ServiceIDs: &serviceIDs})
	require.NoError(t, err)

	assert.Empty(t, updated.ServiceIDs)
	assert.Equal(t, domain.ServiceStatusOperational, f.catalog.services["s1"].Status)
}

func TestService_CreateIncident_RejectsForeignService(t *testing.T) {
	f := newFixture()
	f.catalog.add("s1", "org-2")

	err := f.svc.CreateIncident(context.Background(), &domain.Incident{
		OrganizationID: "org-1",
		Title:          "Cross tenant",
		ServiceIDs:     []string{"s1"},
	})
	assert.ErrorIs(t, err, ErrServiceNotFound)
	assert.Empty(t, f.hub.events)
	assert.Equal(t, domain.ServiceStatusOperational, f.catalog.services["s1"].Status)
}

func TestService_ResolveIncident_ReleasesServices(t *testing.T) {
	f := newFixture()
	f.catalog.add("s1", "org-1")

	incident := f.createIncident(t, domain.SeverityMajor, "s1")
	f.hub.events = nil

	f.now = f.now.Add(10 * time.Minute)
	status := domain.IncidentStatusResolved
	resolved, err := f.svc.UpdateIncident(context.Background(), incident.ID, UpdateIncidentInput{Status: &status})
	require.NoError(t, err)

	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, f.now, *resolved.ResolvedAt)
	assert.Equal(t, domain.ServiceStatusOperational, f.catalog.services["s1"].Status)

	require.Len(t, f.hub.events, 2)
	_, ok := f.hub.events[0].(realtime.IncidentUpdated)
	assert.True(t, ok)
	updates := f.hub.serviceUpdates("s1")
	require.Len(t, updates, 1)
	assert.Equal(t, domain.ServiceStatusOperational, updates[0].Service.Status)
}

func TestService_ResolveIncident_LeavesServiceHeldByOtherActiveIncident(t *testing.T) {
	f := newFixture()
	f.catalog.add("s2", "org-1")

	first := f.createIncident(t, domain.SeverityMajor, "s2")
	f.createIncident(t, domain.SeverityMinor, "s2")

	// The second incident wrote last.
	assert.Equal(t, domain.ServiceStatusDegraded, f.catalog.services["s2"].Status)
	f.hub.events = nil

	status := domain.IncidentStatusResolved
	_, err := f.svc.UpdateIncident(context.Background(), first.ID, UpdateIncidentInput{Status: &status})
	require.NoError(t, err)

	// The other active incident still claims s2, so its status is left
	// untouched and no service_updated broadcast goes out.
	assert.Equal(t, domain.ServiceStatusDegraded, f.catalog.services["s2"].Status)
	assert.Empty(t, f.hub.serviceUpdates("s2"))
}

func TestService_UpdateIncident_SeverityChangeReapplies(t *testing.T) {
	f := newFixture()
	f.catalog.add("s1", "org-1")

	incident := f.createIncident(t, domain.SeverityMinor, "s1")
	assert.Equal(t, domain.ServiceStatusDegraded, f.catalog.services["s1"].Status)

	severity := domain.SeverityMajor
	_, err := f.svc.UpdateIncident(context.Background(), incident.ID, UpdateIncidentInput{Severity: &severity})
	require.NoError(t, err)

	assert.Equal(t, domain.ServiceStatusMajorOutage, f.catalog.services["s1"].Status)
}

func TestService_UpdateIncident_RemovedServicesAreReleased(t *testing.T) {
	f := newFixture()
	f.catalog.add("s1", "org-1")
	f.catalog.add("s2", "org-1")

	incident := f.createIncident(t, domain.SeverityMajor, "s1", "s2")

	serviceIDs := []string{"s1"}
	_, err := f.svc.UpdateIncident(context.Background(), incident.ID, UpdateIncidentInput{ServiceIDs: &serviceIDs})
	require.NoError(t, err)

	assert.Equal(t, domain.ServiceStatusMajorOutage, f.catalog.services["s1"].Status)
	assert.Equal(t, domain.ServiceStatusOperational, f.catalog.services["s2"].Status)
}

func TestService_UpdateIncident_ReopenClearsResolvedAt(t *testing.T) {
	f := newFixture()
	f.catalog.add("s1", "org-1")

	incident := f.createIncident(t, domain.SeverityMedium, "s1")

	resolved := domain.IncidentStatusResolved
	_, err := f.svc.UpdateIncident(context.Background(), incident.ID, UpdateIncidentInput{Status: &resolved})
	require.NoError(t, err)
	assert.Equal(t, domain.ServiceStatusOperational, f.catalog.services["s1"].Status)

	active := domain.IncidentStatusActive
	reopened, err := f.svc.UpdateIncident(context.Background(), incident.ID, UpdateIncidentInput{Status: &active})
	require.NoError(t, err)

	assert.Nil(t, reopened.ResolvedAt)
	assert.Equal(t, domain.ServiceStatusPartialOutage, f.catalog.services["s1"].Status)
}

func TestService_DeleteActiveIncident_ReleasesServices(t *testing.T) {
	f := newFixture()
	f.catalog.add("s1", "org-1")

	incident := f.createIncident(t, domain.SeverityMajor, "s1")
	f.hub.events = nil

	require.NoError(t, f.svc.DeleteIncident(context.Background(), incident.ID))

	assert.Equal(t, domain.ServiceStatusOperational, f.catalog.services["s1"].Status)
	deleted, ok := f.hub.events[0].(realtime.IncidentDeleted)
	require.True(t, ok)
	assert.Equal(t, incident.ID, deleted.IncidentID)
	assert.Equal(t, "org-1", deleted.OrganizationID)
}

func TestService_Reconciler_SkipsUnavailableService(t *testing.T) {
	f := newFixture()
	f.catalog.add("s1", "org-1")
	f.catalog.add("s2", "org-1")

	incident := f.createIncident(t, domain.SeverityMinor, "s1", "s2")

	// s1 disappears between the incident read and the status write. The
	// reconciliation pass must still reach s2.
	f.catalog.failing["s1"] = true
	severity := domain.SeverityMajor
	_, err := f.svc.UpdateIncident(context.Background(), incident.ID, UpdateIncidentInput{Severity: &severity})
	require.NoError(t, err)

	assert.Equal(t, domain.ServiceStatusDegraded, f.catalog.services["s1"].Status)
	assert.Equal(t, domain.ServiceStatusMajorOutage, f.catalog.services["s2"].Status)
}

func TestService_ListPublicIncidents_FiltersShortResolvedIncidents(t *testing.T) {
	f := newFixture()
	f.catalog.add("s1", "org-1")

	short := f.createIncident(t, domain.SeverityMinor, "s1")
	long := f.createIncident(t, domain.SeverityMajor, "s1")
	ongoing := f.createIncident(t, domain.SeverityMedium, "s1")

	status := domain.IncidentStatusResolved

	// Resolved three minutes in: hidden.
	f.now = f.now.Add(3 * time.Minute)
	_, err := f.svc.UpdateIncident(context.Background(), short.ID, UpdateIncidentInput{Status: &status})
	require.NoError(t, err)

	// Resolved ten minutes in: visible.
	f.now = f.now.Add(7 * time.Minute)
	_, err = f.svc.UpdateIncident(context.Background(), long.ID, UpdateIncidentInput{Status: &status})
	require.NoError(t, err)

	public, err := f.svc.ListPublicIncidents(context.Background(), "acme")
	require.NoError(t, err)

	ids := make([]string, 0, len(public))
	for _, incident := range public {
		ids = append(ids, incident.ID)
	}
	assert.NotContains(t, ids, short.ID)
	assert.Contains(t, ids, long.ID)
	assert.Contains(t, ids, ongoing.ID)
}

func TestService_ListPublicIncidents_UnknownSlugReturnsEmpty(t *testing.T) {
	f := newFixture()

	public, err := f.svc.ListPublicIncidents(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, public)
	assert.NotNil(t, public)
}

func TestService_ListPublicIncidents_ToleratesDanglingServiceReference(t *testing.T) {
	f := newFixture()
	f.catalog.add("s1", "org-1")

	incident := f.createIncident(t, domain.SeverityMajor, "s1")

	// The organization's only service goes away; the incident keeps its
	// reference and the public listing must still work.
	delete(f.catalog.services, "s1")

	public, err := f.svc.ListPublicIncidents(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, public, 1)
	assert.Equal(t, incident.ID, public[0].ID)
}

func TestService_CreateIncidentUpdate_Broadcasts(t *testing.T) {
	f := newFixture()
	f.catalog.add("s1", "org-1")

	incident := f.createIncident(t, domain.SeverityMedium, "s1")
	f.hub.events = nil

	update := &domain.IncidentUpdate{
		IncidentID:  incident.ID,
		Message:     "Mitigation in progress",
		StatusLabel: "identified",
		CreatedBy:   "user-1",
	}
	got, err := f.svc.CreateIncidentUpdate(context.Background(), update)
	require.NoError(t, err)
	assert.Equal(t, incident.ID, got.ID)
	assert.NotEmpty(t, update.ID)

	require.Len(t, f.hub.events, 1)
	created, ok := f.hub.events[0].(realtime.IncidentUpdateCreated)
	require.True(t, ok)
	assert.Equal(t, update.ID, created.Update.ID)
	assert.Equal(t, incident.ID, created.Incident.ID)
}

func TestService_CreateIncidentUpdate_UnknownIncident(t *testing.T) {
	f := newFixture()

	_, err := f.svc.CreateIncidentUpdate(context.Background(), &domain.IncidentUpdate{
		IncidentID: "missing",
		Message:    "hello",
	})
	assert.ErrorIs(t, err, ErrIncidentNotFound)
}
