package concurrency

import (
	"context"
	"runtime/debug"

	"github.com/harunnryd/chatloop/internal/logger"
)

// SafeGo runs fn on its own goroutine. A panic is logged with the trace and
// conversation ids carried by ctx and handed to onPanic, if set; deferred
// calls inside fn still run.
func SafeGo(ctx context.Context, fn func(), onPanic func(interface{})) {
	go func() {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			logger.From(ctx).Error("Goroutine panicked", "panic", r, "stack", string(debug.Stack()))
			if onPanic != nil {
				onPanic(r)
			}
		}()
		fn()
	}()
}
