package ledger

import "context"

// Option configures an Engine instance.
type Option func(*Engine)

// OperationLogger records domain-level events emitted by Engine operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes one ingest or spend pass.
type OperationLog struct {
	Operation      string
	Policy         CapacityPolicy
	Events         int
	Payers         int
	Amount         int64
	Spent          int64
	Shortfall      int64
	UnmatchedDebit int64
	Status         string
	Error          error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) Option {
	return func(engine *Engine) {
		engine.logger = logger
	}
}

// WithCapacityPolicy selects how debits and spends larger than the open
// capacity are handled.
func WithCapacityPolicy(policy CapacityPolicy) Option {
	return func(engine *Engine) {
		engine.policy = policy
	}
}
