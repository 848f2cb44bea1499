package domain

import "time"

// IncidentStatus represents the lifecycle state of an incident.
type IncidentStatus string

// Incident statuses.
const (
	IncidentStatusActive   IncidentStatus = "active"
	IncidentStatusResolved IncidentStatus = "resolved"
)

// IsValid checks if the incident status is valid.
func (s IncidentStatus) IsValid() bool {
	return s == IncidentStatusActive || s == IncidentStatusResolved
}

// Severity represents the severity level of an incident.
type Severity string

// Severity levels.
const (
	SeverityMinor  Severity = "minor"
	SeverityMedium Severity = "medium"
	SeverityMajor  Severity = "major"
)

// IsValid checks if the severity is valid.
func (s Severity) IsValid() bool {
	return s == SeverityMinor || s == SeverityMedium || s == SeverityMajor
}

// ServiceStatus maps incident severity to the service status applied to
// affected services while the incident is active. The mapping is total:
// unknown severities fall back to partial outage.
func (s Severity) ServiceStatus() ServiceStatus {
	switch s {
	case SeverityMinor:
		return ServiceStatusDegraded
	case SeverityMedium:
		return ServiceStatusPartialOutage
	case SeverityMajor:
		return ServiceStatusMajorOutage
	default:
		return ServiceStatusPartialOutage
	}
}

// Incident represents a disruption affecting one or more services.
type Incident struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Status         IncidentStatus `json:"status"`
	Severity       Severity       `json:"severity"`
	StartedAt      time.Time      `json:"started_at"`
	ResolvedAt     *time.Time     `json:"resolved_at"`
	CreatedBy      string         `json:"created_by"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	ServiceIDs     []string       `json:"service_ids"`
}

// IsActive reports whether the incident still affects service statuses.
func (i *Incident) IsActive() bool {
	return i.Status == IncidentStatusActive
}

// IncidentUpdate is an append-only progress note on an incident. StatusLabel
// is free text describing progress and is distinct from Incident.Status.
type IncidentUpdate struct {
	ID          string    `json:"id"`
	IncidentID  string    `json:"incident_id"`
	Message     string    `json:"message"`
	StatusLabel string    `json:"status"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}
