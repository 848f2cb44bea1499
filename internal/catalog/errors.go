package catalog

import "errors"

// Domain errors for the catalog module.
var (
	ErrServiceNotFound      = errors.New("service not found")
	ErrServiceNameTaken     = errors.New("a service with this name already exists in the organization")
	ErrOrganizationRequired = errors.New("organization is required")
)
