// Package worker implements the frame ingestion workers.
//
// A worker owns one frame source and one frame counter. It reads frames
// sequentially, hands every ImageInterval-th frame to a bounded callback
// dispatcher and, when checks are enabled, runs the check predicate on every
// CheckInterval-th frame. A single failed read ends the worker in the Failed
// state; recovery belongs to the supervisor.
//
// Two isolation modes share the same ingestion loop:
//
//   - thread: the loop runs on a goroutine and Exit cancels a token checked at
//     every iteration boundary. Cancellation is not preemptive: a worker blocked
//     inside a source read stays alive until the read returns. Exit also closes
//     the source, which unblocks the built-in sources, but third-party sources
//     that ignore Close keep the worker alive until their next frame.
//   - process: the loop runs in a re-executed copy of the current binary (see
//     RunChild). The configuration crosses the boundary as msgpack, so callbacks
//     must be referenced by catalog name. Exit kills the process, dropping any
//     in-flight callback work.
//
// Example usage:
//
//	factory := worker.NewFactory(worker.Deps{
//	    Opener:  source.Default(),
//	    Catalog: callback.Default(),
//	    Logger:  logger,
//	})
//
//	w, err := factory.Start("gate", worker.Config{
//	    Descriptor:    "rtsp://10.0.0.5/stream1",
//	    ImageCallback: "snapshot",
//	    ImageInterval: 10,
//	    CheckInterval: 10,
//	})
//	if err != nil {
//	    // *source.OpenError: w is non-nil and already Failed
//	}
//	defer w.Exit()
package worker
