package logbuf

import "context"

type contextKey struct{}

func WithContext(ctx context.Context, buf *Buffer) context.Context {
	return context.WithValue(ctx, contextKey{}, buf)
}

// FromContext returns the request buffer, or nil. All Buffer methods are safe
// on a nil receiver.
func FromContext(ctx context.Context) *Buffer {
	buf, _ := ctx.Value(contextKey{}).(*Buffer)
	return buf
}
