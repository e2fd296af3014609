// Package guard decides whether a session may enter a protected view.
package guard

import "github.com/MarcoPoloResearchLab/quill/internal/session"

// Requirement is the level of access a view demands.
type Requirement int

const (
	// RequireAuthenticated admits any signed-in user with a resolved profile.
	RequireAuthenticated Requirement = iota
	// RequireAdmin admits only signed-in admins.
	RequireAdmin
)

// Decision is the outcome of a guard check.
type Decision string

const (
	// Defer means the session is still resolving; show a loading indicator.
	Defer Decision = "defer"
	// RedirectLogin means nobody is signed in.
	RedirectLogin Decision = "redirect_login"
	// Deny means the signed-in user lacks the required role.
	Deny Decision = "deny"
	// Allow admits the session.
	Allow Decision = "allow"
)

// Decide evaluates snapshot against requirement. It is a pure function.
func Decide(snapshot session.Snapshot, requirement Requirement) Decision {
	switch {
	case snapshot.State == session.StateLoading:
		return Defer
	case snapshot.Identity == nil:
		return RedirectLogin
	case snapshot.Profile == nil:
		return Defer
	case requirement == RequireAdmin && !snapshot.Profile.IsAdmin():
		return Deny
	default:
		return Allow
	}
}
