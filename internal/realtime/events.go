package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/pulsewatch/pulsewatch/internal/domain"
)

// EventType identifies a broadcast event.
type EventType string

// The full event taxonomy pushed to viewers.
const (
	TypeServiceCreated        EventType = "service_created"
	TypeServiceUpdated        EventType = "service_updated"
	TypeServiceDeleted        EventType = "service_deleted"
	TypeIncidentCreated       EventType = "incident_created"
	TypeIncidentUpdated       EventType = "incident_updated"
	TypeIncidentDeleted       EventType = "incident_deleted"
	TypeIncidentUpdateCreated EventType = "incident_update_created"
)

// Event is a closed set of broadcast payloads, one variant per event type.
// Payloads carry full entities, not diffs, so viewers can render without a
// follow-up fetch.
type Event interface {
	EventType() EventType
}

// ServiceCreated announces a new service.
type ServiceCreated struct {
	Service *domain.Service
}

// ServiceUpdated announces a changed service, including reconciler-driven
// status changes.
type ServiceUpdated struct {
	Service *domain.Service
}

// ServiceDeleted announces a removed service.
type ServiceDeleted struct {
	ServiceID      string
	OrganizationID string
}

// IncidentCreated announces a new incident.
type IncidentCreated struct {
	Incident *domain.Incident
}

// IncidentUpdated announces a changed incident, including resolution.
type IncidentUpdated struct {
	Incident *domain.Incident
}

// IncidentDeleted announces a removed incident.
type IncidentDeleted struct {
	IncidentID     string
	OrganizationID string
}

// IncidentUpdateCreated announces a new progress note. The incident is
// included so viewers can show the update in context.
type IncidentUpdateCreated struct {
	Update   *domain.IncidentUpdate
	Incident *domain.Incident
}

// EventType implements Event.
func (ServiceCreated) EventType() EventType        { return TypeServiceCreated }
func (ServiceUpdated) EventType() EventType        { return TypeServiceUpdated }
func (ServiceDeleted) EventType() EventType        { return TypeServiceDeleted }
func (IncidentCreated) EventType() EventType       { return TypeIncidentCreated }
func (IncidentUpdated) EventType() EventType       { return TypeIncidentUpdated }
func (IncidentDeleted) EventType() EventType       { return TypeIncidentDeleted }
func (IncidentUpdateCreated) EventType() EventType { return TypeIncidentUpdateCreated }

// envelope is the wire shape shared by all variants. Only the fields of the
// concrete variant are populated.
type envelope struct {
	Type           EventType              `json:"type"`
	Service        *domain.Service        `json:"service,omitempty"`
	ServiceID      string                 `json:"service_id,omitempty"`
	Incident       *domain.Incident       `json:"incident,omitempty"`
	IncidentID     string                 `json:"incident_id,omitempty"`
	Update         *domain.IncidentUpdate `json:"update,omitempty"`
	OrganizationID string                 `json:"organization_id,omitempty"`
}

// Marshal serializes an event to its wire form.
func Marshal(e Event) ([]byte, error) {
	env := envelope{Type: e.EventType()}

	switch v := e.(type) {
	case ServiceCreated:
		env.Service = v.Service
		env.OrganizationID = v.Service.OrganizationID
	case ServiceUpdated:
		env.Service = v.Service
		env.OrganizationID = v.Service.OrganizationID
	case ServiceDeleted:
		env.ServiceID = v.ServiceID
		env.OrganizationID = v.OrganizationID
	case IncidentCreated:
		env.Incident = v.Incident
		env.OrganizationID = v.Incident.OrganizationID
	case IncidentUpdated:
		env.Incident = v.Incident
		env.OrganizationID = v.Incident.OrganizationID
	case IncidentDeleted:
		env.IncidentID = v.IncidentID
		env.OrganizationID = v.OrganizationID
	case IncidentUpdateCreated:
		env.Update = v.Update
		env.Incident = v.Incident
		env.OrganizationID = v.Incident.OrganizationID
	default:
		return nil, fmt.Errorf("unknown event type %T", e)
	}

	return json.Marshal(env)
}
