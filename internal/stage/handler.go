package stage

import "context"

// Handler describes the contract the pipeline needs from each stage. Execute
// receives the work item's folder; the item ID and stage name are carried by
// ctx.
type Handler interface {
	Execute(ctx context.Context, location string) error
	HealthCheck(ctx context.Context) Health
}

// Func adapts a plain function into a Handler that always reports healthy.
type Func func(ctx context.Context, location string) error

// Execute calls f.
func (f Func) Execute(ctx context.Context, location string) error {
	return f(ctx, location)
}

// HealthCheck reports a ready record with no name.
func (f Func) HealthCheck(context.Context) Health {
	return Health{Ready: true}
}
