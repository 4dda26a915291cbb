package identity

import "context"

// Request metadata travels on the context so the engine API stays free of
// transport-specific parameters. HTTP adapters call the With* helpers once
// per request; absent values read back as empty strings.

type clientIPKey struct{}
type userAgentKey struct{}
type requestIDKey struct{}

// WithClientIP attaches the caller's network address. It feeds audit
// events, per-IP throttles, LastLoginIP, and device fingerprints.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// WithUserAgent attaches the caller's user-agent string, used together
// with the client IP to fingerprint trusted devices.
func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, userAgentKey{}, ua)
}

// WithRequestID attaches a correlation identifier copied into audit events.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func clientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	ua, _ := ctx.Value(userAgentKey{}).(string)
	return ua
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
