package audit

import "context"

// UnknownActor is recorded when no identity can be resolved. An audit entry
// is never skipped for lack of an actor.
const UnknownActor = "Unknown"

// Actor is the identity a change is attributed to.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ActorResolver returns the current acting user, or nil when anonymous.
type ActorResolver interface {
	CurrentActor(ctx context.Context) (*Actor, error)
}

// StaticActor always resolves to the same identity. An empty name is
// treated as anonymous.
type StaticActor Actor

func (s StaticActor) CurrentActor(context.Context) (*Actor, error) {
	if s.Name == "" && s.ID == "" {
		return nil, nil
	}
	a := Actor(s)
	return &a, nil
}

type actorKey struct{}

// WithActor attaches an actor to ctx for ContextActor to find.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ContextActor resolves the actor stored by WithActor, falling back to
// Fallback when the context carries none.
type ContextActor struct {
	Fallback ActorResolver
}

func (c ContextActor) CurrentActor(ctx context.Context) (*Actor, error) {
	if a, ok := ctx.Value(actorKey{}).(Actor); ok && (a.ID != "" || a.Name != "") {
		return &a, nil
	}
	if c.Fallback != nil {
		return c.Fallback.CurrentActor(ctx)
	}
	return nil, nil
}
