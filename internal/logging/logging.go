package logging

import (
	"context"
	"fmt"

	"github.com/MarkoPoloResearchLab/pointsledger/pkg/ledger"
	"go.uber.org/zap"
)

// New builds a production zap logger at the given level ("debug", "info", ...).
func New(level string) (*zap.Logger, error) {
	atomicLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = atomicLevel
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logger build: %w", err)
	}
	return logger, nil
}

// OperationLogger forwards ledger operation logs to zap.
type OperationLogger struct {
	logger *zap.Logger
}

// NewOperationLogger adapts a zap logger. A nil logger discards everything.
func NewOperationLogger(logger *zap.Logger) *OperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OperationLogger{logger: logger}
}

// LogOperation implements ledger.OperationLogger.
func (operationLogger *OperationLogger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.String("capacity_policy", entry.Policy.String()),
		zap.Int("events", entry.Events),
		zap.Int("payers", entry.Payers),
	}
	if entry.Amount != 0 || entry.Spent != 0 {
		fields = append(fields, zap.Int64("amount", entry.Amount), zap.Int64("spent", entry.Spent))
	}
	if entry.Error != nil {
		operationLogger.logger.Error("ledger operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	if entry.Shortfall > 0 || entry.UnmatchedDebit > 0 {
		operationLogger.logger.Warn("ledger capacity clamped", append(fields,
			zap.Int64("shortfall", entry.Shortfall),
			zap.Int64("unmatched_debit", entry.UnmatchedDebit),
		)...)
		return
	}
	operationLogger.logger.Info("ledger operation", fields...)
}
