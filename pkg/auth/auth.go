package auth

import (
	"context"
	"errors"
	"net/http"
)

// Decision is the outcome of a single authenticator's vote.
type Decision int

const (
	// Yes means the credentials are valid. The chain stops and the attached
	// identity is used.
	Yes Decision = iota

	// No means credentials were presented but rejected. The chain stops and
	// the request fails.
	No

	// Abstain means this authenticator does not handle the presented
	// credential type. The chain moves on to the next one.
	Abstain
)

// Result carries one authentication vote.
type Result struct {
	Decision Decision
	Identity *Identity // set only when Decision == Yes
	Err      error     // set only when Decision == No
}

// Identity describes an authenticated caller.
type Identity struct {
	// Subject uniquely identifies the caller. Never empty on a Yes vote.
	Subject string

	// ServiceTier selects the caller's rate limit budget.
	ServiceTier string

	// Scopes lists the authorization scopes granted to the caller.
	Scopes []string

	// Metadata carries provider-specific attributes. The "tenant_id" key
	// scopes run ledger access.
	Metadata map[string]string
}

// TenantID returns the tenant identifier from metadata, or "".
func (id *Identity) TenantID() string {
	if id == nil || id.Metadata == nil {
		return ""
	}
	return id.Metadata["tenant_id"]
}

// SubjectOrEmpty returns the subject, or "" for a nil identity.
func (id *Identity) SubjectOrEmpty() string {
	if id == nil {
		return ""
	}
	return id.Subject
}

// Authenticator inspects request credentials and votes.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) Result
}

// Sentinel errors.
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("access denied")
	ErrTooManyRequests = errors.New("rate limit exceeded")
)

// Chain evaluates authenticators left to right with three-outcome voting.
type Chain struct {
	Authenticators []Authenticator

	// DefaultDecision applies when every authenticator abstains. Yes keeps
	// open development deployments working; No locks down production.
	DefaultDecision Decision
}

// Authenticate runs the chain, stopping at the first Yes or No vote.
func (c *Chain) Authenticate(ctx context.Context, r *http.Request) Result {
	for _, a := range c.Authenticators {
		if res := a.Authenticate(ctx, r); res.Decision != Abstain {
			return res
		}
	}

	// Everybody abstained.
	if c.DefaultDecision == Yes {
		return Result{
			Decision: Yes,
			Identity: &Identity{Subject: "anonymous", ServiceTier: "default"},
		}
	}

	return Result{Decision: No, Err: ErrUnauthenticated}
}

type identityKey struct{}

// SetIdentity stores the authenticated identity in the context.
func SetIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the authenticated identity, or nil when
// the request was not authenticated.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
