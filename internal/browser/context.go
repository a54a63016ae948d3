package browser

import "context"

// CombineContext returns a context carrying the values of primary (the CDP
// target) that is canceled when either primary or secondary (the operation)
// is done. context.Cause reports the secondary's error when it fired first,
// so a step deadline stays distinguishable from a session teardown.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancelCause(primary)
	stop := context.AfterFunc(secondary, func() {
		cancel(context.Cause(secondary))
	})
	return combined, func() {
		stop()
		cancel(context.Canceled)
	}
}
