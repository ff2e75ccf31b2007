// Package dispatch runs frame callbacks on a bounded pool so slow or faulty
// callbacks never stall frame ingestion.
//
// Submit never waits for a callback to finish: it either queues the work or
// rejects it with ErrQueueFull. Callback errors and panics are recovered,
// logged and counted; they never reach the submitting goroutine.
//
//	d := dispatch.New(dispatch.Options{PoolSize: 10, QueueSize: 100}, logger)
//	defer d.Close()
//	if err := d.Submit(onFrame, frame); err != nil {
//	    // rejected, the pool is saturated
//	}
package dispatch
