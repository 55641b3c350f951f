// Package apikey provides a static bearer-token authenticator. Keys are
// SHA-256 hashed at load time and compared in constant time; plaintext keys
// are never retained.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/arenabench/agentbox/pkg/auth"
)

// Entry declares one accepted API key and the identity it maps to.
type Entry struct {
	Key         string
	Subject     string
	TenantID    string
	ServiceTier string
}

type keyRecord struct {
	hash     [32]byte
	identity auth.Identity
}

// Authenticator validates bearer tokens against a static key set.
type Authenticator struct {
	keys []keyRecord
}

// New builds an authenticator from key entries, hashing each key
// immediately.
func New(entries []Entry) *Authenticator {
	a := &Authenticator{}
	for _, e := range entries {
		id := auth.Identity{
			Subject:     e.Subject,
			ServiceTier: e.ServiceTier,
		}
		if e.TenantID != "" {
			id.Metadata = map[string]string{"tenant_id": e.TenantID}
		}
		a.keys = append(a.keys, keyRecord{
			hash:     sha256.Sum256([]byte(e.Key)),
			identity: id,
		})
	}
	return a
}

// Authenticate votes Yes for a known bearer token, No for an unknown or
// empty one, and Abstain when the request carries no bearer credentials.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.Result {
	header := r.Header.Get("Authorization")
	if header == "" {
		return auth.Result{Decision: auth.Abstain}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return auth.Result{Decision: auth.Abstain}
	}

	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" {
		return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	tokenHash := sha256.Sum256([]byte(token))

	for _, rec := range a.keys {
		if subtle.ConstantTimeCompare(tokenHash[:], rec.hash[:]) == 1 {
			// Copy so callers cannot mutate the stored identity.
			id := rec.identity
			return auth.Result{Decision: auth.Yes, Identity: &id}
		}
	}

	return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
}
