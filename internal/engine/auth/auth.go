package auth

import (
	"fmt"
	"sort"

	"caseline/internal/config"
)

const (
	PermCaseRead     = "case.read"
	PermCaseWrite    = "case.write"
	PermTimelineRead = "timeline.read"
	PermAPIKeyManage = "apikey.manage"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Service resolves role grants from the loaded config.
type Service struct {
	Config *config.Config
}

// Roles returns roles as given, or the configured default role when empty.
func (s Service) Roles(roles []string) []string {
	if len(roles) > 0 || s.Config == nil || s.Config.RBAC.DefaultRole == "" {
		return roles
	}
	return []string{s.Config.RBAC.DefaultRole}
}

// Permissions returns the sorted union of permissions granted by roles.
// Unknown roles grant nothing.
func (s Service) Permissions(roles []string) []string {
	if s.Config == nil {
		return nil
	}
	set := map[string]bool{}
	for _, role := range s.Roles(roles) {
		for _, p := range s.Config.RBAC.Roles[role].Permissions {
			set[p] = true
		}
	}
	perms := make([]string, 0, len(set))
	for p := range set {
		perms = append(perms, p)
	}
	sort.Strings(perms)
	return perms
}

func (s Service) HasPermission(roles []string, perm string) bool {
	for _, p := range s.Permissions(roles) {
		if p == perm {
			return true
		}
	}
	return false
}

// Require returns ForbiddenError unless roles grant perm.
func (s Service) Require(roles []string, perm string) error {
	if s.HasPermission(roles, perm) {
		return nil
	}
	return ForbiddenError{Permission: perm}
}

// KnownRole reports whether role is defined in config.
func (s Service) KnownRole(role string) bool {
	if s.Config == nil {
		return false
	}
	_, ok := s.Config.RBAC.Roles[role]
	return ok
}
