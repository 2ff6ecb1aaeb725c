package lone

import "context"

// NotifyFunc delivers one status message to the caller of the current
// request. The worker installs a notification publisher; the CLI local mode
// installs a stdout logger.
type NotifyFunc func(msg any)

type notifyKey struct{}

// WithNotifier returns a context carrying a status notifier.
func WithNotifier(ctx context.Context, fn NotifyFunc) context.Context {
	return context.WithValue(ctx, notifyKey{}, fn)
}

// Notify sends a status message to the request's notifier, if one is
// installed. Long-running handlers use it to stream progress.
func Notify(ctx context.Context, msg any) {
	if fn, ok := ctx.Value(notifyKey{}).(NotifyFunc); ok && fn != nil {
		fn(msg)
	}
}
