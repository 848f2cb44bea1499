package tenancy

import "errors"

// Domain errors for the tenancy module.
var (
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrSlugTaken            = errors.New("an organization with this slug already exists")
	ErrInvalidSlug          = errors.New("organization slug must contain letters or digits")
	ErrUserNotFound         = errors.New("user not found")
	ErrEmailTaken           = errors.New("a user with this email already exists")
	ErrTeamNotFound         = errors.New("team not found")
	ErrTeamNameTaken        = errors.New("a team with this name already exists in the organization")
	ErrMemberNotFound       = errors.New("team member not found")
	ErrAlreadyMember        = errors.New("user is already a member of this team")
	ErrLastOrgAdmin         = errors.New("cannot remove the last organization admin")
	ErrForbidden            = errors.New("operation not permitted")
)
