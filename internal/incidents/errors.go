package incidents

import "errors"

// Domain errors for the incidents module.
var (
	ErrIncidentNotFound     = errors.New("incident not found")
	ErrUpdateNotFound       = errors.New("incident update not found")
	ErrServiceNotFound      = errors.New("affected service not found")
	ErrOrganizationRequired = errors.New("organization is required")
)
