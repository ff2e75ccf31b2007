package check

import (
	"context"
	"fmt"

	"github.com/aescanero/dago-stream-watcher/internal/eval/cel"
	"github.com/aescanero/dago-stream-watcher/internal/source"
	"go.uber.org/zap"
)

// Expression evaluates a CEL condition for every sampled frame.
//
// The expression sees a single variable:
//
//	frame.seq        int    sequence number
//	frame.width      int    pixels
//	frame.height     int    pixels
//	frame.diff       double hamming distance to the previous sampled frame
//	frame.timestamp  int    unix milliseconds
//
// Evaluation errors count as a failed check.
type Expression struct {
	cond    *cel.Condition
	hamming *Hamming
	logger  *zap.Logger
}

// NewExpression compiles expression and returns a check evaluating it
func NewExpression(expression string, logger *zap.Logger) (*Expression, error) {
	if expression == "" {
		return nil, fmt.Errorf("check expression is required")
	}

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, err
	}
	cond, err := evaluator.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid check expression: %w", err)
	}

	return &Expression{
		cond:    cond,
		hamming: NewHamming(0),
		logger:  logger,
	}, nil
}

// Check evaluates the expression for frame
func (e *Expression) Check(frame source.Frame) bool {
	ok, err := e.cond.Eval(context.Background(), cel.FrameVars{
		Seq:       frame.Seq,
		Width:     frame.Width(),
		Height:    frame.Height(),
		Diff:      e.hamming.Distance(frame),
		Timestamp: frame.Timestamp.UnixMilli(),
	})
	if err != nil {
		e.logger.Warn("check expression evaluation error",
			zap.String("expression", e.cond.String()),
			zap.Uint64("seq", frame.Seq),
			zap.Error(err),
		)
		return false
	}
	return ok
}
