// Package groutine starts named goroutines that show up in pprof labels and logs.
package groutine

import (
	"context"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go starts fn in a goroutine labeled with name.
//
//	groutine.Go(ctx, "scan", func(ctx context.Context) {
//	    // work
//	})
//
// If parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprofLabels(name)
	go doLabeled(parentCtx, labels, func(ctx context.Context) {
		fn(context.WithValue(ctx, goroutineNameKey, name))
	})
}

// GoSafe is Go with panic recovery. A panic is logged with its stack and
// passed to onPanic (if set) instead of crashing the process.
func GoSafe(parentCtx context.Context, name string, logger *logrus.Logger, onPanic func(any), fn func(ctx context.Context)) {
	if logger == nil {
		logger = logrus.New()
	}
	Go(parentCtx, name, func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(logrus.Fields{
					"goroutine": name,
					"panic":     r,
					"stack":     string(debug.Stack()),
				}).Error("Recovered from goroutine panic")
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn(ctx)
	})
}

// GetName retrieves the goroutine name from the context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(goroutineNameKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
