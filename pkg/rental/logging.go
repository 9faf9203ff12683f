package rental

import "context"

const (
	operationRequestRental = "request_rental"
	operationUpdateStatus  = "update_rental_status"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	codeInvalidTransition = "invalid_transition"
	codeInvalidRequest    = "invalid_request"
	codeNotFound          = "not_found"
	codeStore             = "store"
)

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// OperationLogger records rental engine events.
type OperationLogger interface {
	LogRentalOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes one engine operation.
type OperationLog struct {
	Operation string
	RentalID  string
	ItemID    string
	From      Status
	To        Status
	Status    string
	Code      string
	Error     error
}

// WithOperationLogger wires a logger that receives every engine operation.
func WithOperationLogger(logger OperationLogger) EngineOption {
	return func(engine *Engine) {
		engine.logger = logger
	}
}

// WithIDGenerator replaces the rental id generator.
func WithIDGenerator(generator func() string) EngineOption {
	return func(engine *Engine) {
		if generator != nil {
			engine.newID = generator
		}
	}
}
