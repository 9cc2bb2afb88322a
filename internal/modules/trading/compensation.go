package trading

import (
	"context"
	"errors"
)

type compensationStep struct {
	name string
	undo func(ctx context.Context) error
}

// compensation is a stack of inverse actions registered as each mutation of a
// trade succeeds.
type compensation struct {
	steps []compensationStep
}

func (c *compensation) push(name string, undo func(ctx context.Context) error) {
	c.steps = append(c.steps, compensationStep{name: name, undo: undo})
}

func (c *compensation) len() int {
	return len(c.steps)
}

// unwind runs every inverse action newest first. A failing step does not stop
// the remaining ones; the first failed step name and all errors are returned.
func (c *compensation) unwind(ctx context.Context) (string, error) {
	var failedStep string
	var errs []error
	for i := len(c.steps) - 1; i >= 0; i-- {
		step := c.steps[i]
		if err := step.undo(ctx); err != nil {
			if failedStep == "" {
				failedStep = step.name
			}
			errs = append(errs, err)
		}
	}
	c.steps = nil
	return failedStep, errors.Join(errs...)
}
