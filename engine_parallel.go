package substrate

import (
	"context"
	"runtime"
	"sync"
)

// processSerial rewrites items one at a time in the calling goroutine.
func (e *Engine) processSerial(ctx context.Context, items []genItem) []genOut {
	outs := make([]genOut, 0, len(items))
	for _, item := range items {
		outs = append(outs, e.processOne(ctx, item))
	}
	return outs
}

// processParallel rewrites items through a worker pool. Workers share
// the compiled rule tables, which are immutable after New; each Rewrite
// call builds its own parser, and each fixup evaluation its own Risor
// environment. The commit phase stays serial so outputs and ledger rows
// land in one deterministic order.
func (e *Engine) processParallel(ctx context.Context, items []genItem) []genOut {
	if len(items) == 0 {
		return nil
	}
	numWorkers := min(runtime.NumCPU(), len(items))
	if numWorkers < 1 {
		numWorkers = 1
	}

	workCh := make(chan genItem, len(items))
	for _, item := range items {
		workCh <- item
	}
	close(workCh)

	outCh := make(chan genOut, len(items))
	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range workCh {
				outCh <- e.processOne(ctx, item)
			}
		}()
	}

	go func() {
		wg.Wait()
		close(outCh)
	}()

	outs := make([]genOut, 0, len(items))
	for out := range outCh {
		outs = append(outs, out)
	}
	return outs
}
