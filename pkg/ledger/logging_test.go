package ledger

import (
	"context"
	"errors"
	"testing"
)

type recorderLogger struct {
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.entries = append(logger.entries, entry)
}

func TestServiceLogsEachLeg(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, map[string]int64{renterIDValue: 50})
	logger := &recorderLogger{}
	service := mustNewService(test, store, WithOperationLogger(logger))
	payer := mustUserID(test, renterIDValue)
	payee := mustUserID(test, ownerIDValue)

	if err := service.Transfer(context.Background(), payer, payee, mustPositiveCredits(test, 20), ReasonTaskPayment, referenceID, MetadataJSON{}); err != nil {
		test.Fatalf("transfer failed: %v", err)
	}
	if len(logger.entries) != 2 {
		test.Fatalf("expected two log entries, got %d", len(logger.entries))
	}
	debit := logger.entries[0]
	if debit.Operation != operationDebit || debit.UserID != payer || debit.Amount != 20 || debit.ReferenceID != referenceID {
		test.Fatalf("unexpected debit log entry: %+v", debit)
	}
	credit := logger.entries[1]
	if credit.Operation != operationCredit || credit.UserID != payee || credit.Status != operationStatusOK {
		test.Fatalf("unexpected credit log entry: %+v", credit)
	}
}

func TestServiceLogsErrorStatus(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, nil)
	store.insertEntryError = errors.New("boom")
	logger := &recorderLogger{}
	service := mustNewService(test, store, WithOperationLogger(logger))

	_, err := service.Credit(context.Background(), mustUserID(test, ownerIDValue), mustPositiveCredits(test, 100), ReasonGrant, referenceID, MetadataJSON{})
	if err == nil {
		test.Fatalf("expected error")
	}
	if len(logger.entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(logger.entries))
	}
	if logger.entries[0].Status != operationStatusError || logger.entries[0].Error == nil {
		test.Fatalf("expected error log entry, got %+v", logger.entries[0])
	}
}
