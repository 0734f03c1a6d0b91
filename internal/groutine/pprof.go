package groutine

import (
	"context"
	"runtime/pprof"
)

func pprofLabels(name string) pprof.LabelSet {
	return pprof.Labels("goroutine_name", name)
}

func doLabeled(ctx context.Context, labels pprof.LabelSet, fn func(ctx context.Context)) {
	pprof.Do(ctx, labels, fn)
}
