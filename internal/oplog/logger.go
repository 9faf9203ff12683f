package oplog

import (
	"context"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/mutualaid/pkg/ledger"
	"github.com/MarkoPoloResearchLab/mutualaid/pkg/rental"
)

const statusOK = "ok"

// Logger writes ledger and rental operation events to zap and prometheus.
type Logger struct {
	logger  *zap.Logger
	metrics *Metrics
}

// New builds a Logger. A nil logger disables log output; nil metrics disable counting.
func New(logger *zap.Logger, metrics *Metrics) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger, metrics: metrics}
}

// LogOperation implements ledger.OperationLogger.
func (operationLogger *Logger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("user_id", entry.UserID.String()),
		zap.Int64("amount", entry.Amount.Int64()),
		zap.String("reason", entry.Reason.String()),
		zap.String("reference_id", entry.ReferenceID),
		zap.String("status", entry.Status),
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		operationLogger.logger.Warn("ledger operation failed", fields...)
	} else {
		operationLogger.logger.Info("ledger operation", fields...)
	}
	if operationLogger.metrics == nil {
		return
	}
	operationLogger.metrics.ledgerOperations.WithLabelValues(entry.Operation, entry.Reason.String(), entry.Status).Inc()
	if entry.Status == statusOK {
		operationLogger.metrics.ledgerCredits.WithLabelValues(entry.Operation, entry.Reason.String()).Add(float64(entry.Amount.Int64()))
	}
}

// LogRentalOperation implements rental.OperationLogger.
func (operationLogger *Logger) LogRentalOperation(_ context.Context, entry rental.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("rental_id", entry.RentalID),
		zap.String("item_id", entry.ItemID),
		zap.String("from", entry.From.String()),
		zap.String("to", entry.To.String()),
		zap.String("status", entry.Status),
	}
	if entry.Code != "" {
		fields = append(fields, zap.String("code", entry.Code))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		operationLogger.logger.Warn("rental operation failed", fields...)
	} else {
		operationLogger.logger.Info("rental operation", fields...)
	}
	if operationLogger.metrics != nil {
		operationLogger.metrics.rentalOperations.WithLabelValues(entry.Operation, entry.To.String(), entry.Status, entry.Code).Inc()
	}
}
