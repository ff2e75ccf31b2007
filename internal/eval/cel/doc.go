// Package cel compiles CEL (Common Expression Language) conditions over frame metadata.
//
// Conditions run on the ingestion path for every sampled frame, so each program is
// compiled once, cached by its text and bounded by a cost limit.
//
// Example usage:
//
//	evaluator, err := cel.NewEvaluator()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	cond, err := evaluator.Compile("frame.diff > 0.001 && frame.seq % 30 == 0")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ok, err := cond.Eval(ctx, cel.FrameVars{Seq: 120, Diff: 0.004})
//
// Variables available under `frame`: seq, width, height, diff, timestamp.
package cel
