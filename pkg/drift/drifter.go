package drift

import "context"

// Drifter is a unit of recurring work.
//
// Execute is called once per tick with a token derived for that tick. The
// token is advisory: a Drifter may watch it to return early, but the loop
// never interrupts an execution in flight.
type Drifter interface {
	Execute(token *Token) error
}

// JobFunc is a plain callable scheduled through the function entry points.
// The tick token is passed as ctx.
type JobFunc func(ctx context.Context) error

// FromFunc adapts fn to a Drifter. Errors returned by fn are wrapped in a
// *JobError.
func FromFunc(fn JobFunc) Drifter {
	return funcDrifter{fn: fn}
}

type funcDrifter struct {
	fn JobFunc
}

func (d funcDrifter) Execute(token *Token) error {
	if err := d.fn(token); err != nil {
		return &JobError{Err: err}
	}
	return nil
}
