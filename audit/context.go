package audit

import "context"

type ctxKey int

const (
	traceKey ctxKey = iota
	ipKey
)

// WithRequest stores the request trace id and client ip on ctx so that
// services can stamp audit entries without depending on the transport.
func WithRequest(ctx context.Context, traceID, ip string) context.Context {
	ctx = context.WithValue(ctx, traceKey, traceID)
	return context.WithValue(ctx, ipKey, ip)
}

// TraceID returns the trace id stored by WithRequest.
func TraceID(ctx context.Context) string {
	v, _ := ctx.Value(traceKey).(string)
	return v
}

// ClientIP returns the client ip stored by WithRequest.
func ClientIP(ctx context.Context) string {
	v, _ := ctx.Value(ipKey).(string)
	return v
}

// LogCtx is Log with TraceID and IP taken from ctx.
func (svc *Service) LogCtx(ctx context.Context, entry Entry) {
	if entry.TraceID == "" {
		entry.TraceID = TraceID(ctx)
	}
	if entry.IP == "" {
		entry.IP = ClientIP(ctx)
	}
	svc.Log(entry)
}
