package shared

import "context"

// Actor carries the identity performing an operation. It is passed explicitly
// into every posting and number-generation call; services never read it from
// ambient state.
type Actor struct {
	UserID   int64
	BranchID int64
}

// System is the actor used by batch jobs and CLI repairs.
var System = Actor{UserID: 0, BranchID: 0}

type actorContextKey struct{}

// ContextWithActor stores the actor in context for the HTTP layer.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor placed by the HTTP middleware.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
