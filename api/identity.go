/*
identity.go - Actor resolution for incoming requests

PURPOSE:
  The engine consumes an (actor id, role) pair resolved by an external
  identity provider; it never derives roles itself. ActorResolver is the
  seam, and HeaderResolver is the deployment-gateway flavor: an upstream
  proxy authenticates the user and injects the trusted headers.

SECURITY NOTE:
  HeaderResolver trusts its headers. It is only safe behind a gateway
  that strips client-supplied X-Actor-* headers. Swap in a token-backed
  resolver when the engine fronts the internet directly.

SEE ALSO:
  - handlers.go: Calls the resolver at the top of every mutating handler
*/
package api

import (
	"fmt"
	"net/http"

	"github.com/archit2501/insurance-brokerage-system-sub000/notes"
)

const (
	headerActorID   = "X-Actor-Id"
	headerActorRole = "X-Actor-Role"
)

// ActorResolver turns a request into the actor performing it.
type ActorResolver interface {
	Resolve(r *http.Request) (notes.Actor, error)
}

// HeaderResolver reads the actor from gateway-injected headers.
type HeaderResolver struct{}

func (HeaderResolver) Resolve(r *http.Request) (notes.Actor, error) {
	id := r.Header.Get(headerActorID)
	role := r.Header.Get(headerActorRole)
	if id == "" || role == "" {
		return notes.Actor{}, fmt.Errorf("missing %s or %s header", headerActorID, headerActorRole)
	}

	switch notes.Role(role) {
	case notes.RoleClerk, notes.RoleUnderwriting, notes.RoleAccounts, notes.RoleAdmin:
	default:
		return notes.Actor{}, fmt.Errorf("unknown role %q", role)
	}

	return notes.Actor{ID: id, Role: notes.Role(role)}, nil
}
