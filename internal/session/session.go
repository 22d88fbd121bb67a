// Package session holds the authenticated state for every browser
// session: who is signed in, with what privilege, right now. It mirrors
// the identity provider through its event stream and exchanges each
// identity for a bearer credential and a role with the events API.
package session

import (
	"strings"

	"github.com/gatherly-app/gatherly/internal/identity"
)

// Role is the coarse privilege classification. It is derived from the
// API's role lookup at a single point (NormalizeRole) and never
// re-derived ad hoc by call sites.
type Role string

const (
	RoleNone      Role = ""
	RoleUser      Role = "user"
	RoleOrganizer Role = "organizer"
	RoleAdmin     Role = "admin"
)

// IsAdmin reports whether the role carries administrative privilege.
func (r Role) IsAdmin() bool { return r == RoleAdmin }

// AccountStatus gates whether an account is usable.
type AccountStatus string

const (
	StatusNone      AccountStatus = ""
	StatusActive    AccountStatus = "active"
	StatusSuspended AccountStatus = "suspended"
)

// RoleRecord is the remote API's role-lookup response, contract-first:
// the admin flag wins, the label only distinguishes organizer from user.
type RoleRecord struct {
	Admin  bool   `json:"admin"`
	Role   string `json:"role,omitempty"`
	Status string `json:"status"`
}

// NormalizeRole collapses the lookup response to one Role value.
func NormalizeRole(rec *RoleRecord) Role {
	if rec == nil {
		return RoleUser
	}
	if rec.Admin {
		return RoleAdmin
	}
	if strings.EqualFold(rec.Role, string(RoleOrganizer)) {
		return RoleOrganizer
	}
	return RoleUser
}

// NormalizeStatus maps the lookup's status string to an AccountStatus.
func NormalizeStatus(raw string) AccountStatus {
	if strings.EqualFold(raw, string(StatusSuspended)) {
		return StatusSuspended
	}
	if raw == "" {
		return StatusNone
	}
	return StatusActive
}

// Session is the authenticated state of one browser session.
//
// Invariants: a stored bearer credential implies Identity is non-nil,
// and Identity nil implies Role and Status are none.
type Session struct {
	Identity *identity.Identity
	Role     Role
	Status   AccountStatus
	Loading  bool
}

// SignedIn reports whether the session carries an identity.
func (s Session) SignedIn() bool { return s.Identity != nil }

// Suspended reports whether the account is blocked from the app.
func (s Session) Suspended() bool { return s.Status == StatusSuspended }
