package domain

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ServiceStatus represents the operational status of a service.
type ServiceStatus string

// Service statuses, ordered from healthy to broken.
const (
	ServiceStatusOperational   ServiceStatus = "operational"
	ServiceStatusDegraded      ServiceStatus = "degraded_performance"
	ServiceStatusPartialOutage ServiceStatus = "partial_outage"
	ServiceStatusMajorOutage   ServiceStatus = "major_outage"
)

// IsValid checks if the service status is valid.
func (s ServiceStatus) IsValid() bool {
	switch s {
	case ServiceStatusOperational, ServiceStatusDegraded,
		ServiceStatusPartialOutage, ServiceStatusMajorOutage:
		return true
	}
	return false
}

var statusTitle = cases.Title(language.English)

// DisplayName renders the status for human consumption,
// e.g. "degraded_performance" becomes "Degraded Performance".
func (s ServiceStatus) DisplayName() string {
	return statusTitle.String(strings.ReplaceAll(string(s), "_", " "))
}

// Service represents a monitored service on an organization's status page.
// Status is a derived field: it reflects the most recent reconciliation
// against the incidents currently affecting the service.
type Service struct {
	ID             string        `json:"id"`
	OrganizationID string        `json:"organization_id"`
	Name           string        `json:"name"`
	Description    string        `json:"description"`
	Status         ServiceStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}
