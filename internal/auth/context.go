package auth

import "context"

type payloadKey struct{}

// ContextWithPayload returns ctx carrying the caller resolved by Guard.Resolve.
func ContextWithPayload(ctx context.Context, p Payload) context.Context {
	return context.WithValue(ctx, payloadKey{}, p)
}

// PayloadFromContext returns the caller attached by ContextWithPayload.
// Requests without one are anonymous.
func PayloadFromContext(ctx context.Context) (Payload, bool) {
	p, ok := ctx.Value(payloadKey{}).(Payload)
	return p, ok && p.ActorID != ""
}
