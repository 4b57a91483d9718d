package actorcontext

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// Role is the marketplace party an authenticated identity acts as.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleWriter Role = "writer"
	RoleClient Role = "client"
	RoleSystem Role = "system"
)

// ParseRole normalizes a role claim. Unknown values return false.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleWriter:
		return RoleWriter, true
	case RoleClient:
		return RoleClient, true
	case RoleSystem:
		return RoleSystem, true
	default:
		return "", false
	}
}

// Actor identifies who performs an action.
type Actor struct {
	ID   snowflake.ID
	Role Role
}

func (a Actor) IsAdmin() bool  { return a.Role == RoleAdmin }
func (a Actor) IsWriter() bool { return a.Role == RoleWriter }
func (a Actor) IsClient() bool { return a.Role == RoleClient }
func (a Actor) IsSystem() bool { return a.Role == RoleSystem }

// Subject renders the actor as a policy subject, e.g. "user:123".
func (a Actor) Subject() string {
	if a.Role == RoleSystem {
		return "system"
	}
	return "user:" + a.ID.String()
}

// System is the actor used by background jobs and gateway callbacks.
func System() Actor {
	return Actor{Role: RoleSystem}
}

type actorKey struct{}

// WithActor stores the actor in the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor from context, if set.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorKey{}).(Actor)
	if !ok || actor.Role == "" {
		return Actor{}, false
	}
	return actor, true
}
