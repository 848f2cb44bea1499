package domain

import "time"

// Organization is the tenant boundary. Every service, incident, team and
// non-super-admin user belongs to exactly one organization.
type Organization struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// OrganizationCounts carries aggregate counts for the admin listing.
type OrganizationCounts struct {
	Users     int `json:"users"`
	Services  int `json:"services"`
	Incidents int `json:"incidents"`
}

// OrganizationWithCounts extends Organization with entity counts.
type OrganizationWithCounts struct {
	Organization
	Counts OrganizationCounts `json:"counts"`
}
