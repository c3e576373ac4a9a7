// Package orchestrator schedules work items onto a fixed number of worker
// slots.
//
// A Pool pulls items from a Source one at a time, consults the resource
// gate immediately before each dispatch, and runs workers concurrently up
// to its concurrency limit. Results are appended to a RunLog in completion
// order and returned in a Report once every dispatched worker has finished.
//
// Example usage:
//
//	pool := orchestrator.NewPool(orchestrator.PoolConfig{
//		Concurrency: cfg.Concurrency,
//		Thresholds:  thresholds,
//		Worker:      w,
//	})
//	report, err := pool.Run(ctx, src, gate)
package orchestrator
