package finance

import (
	"context"
	"time"
)

type EventType string

const (
	EventTransactionCreated EventType = "transaction.created"
	EventTransactionUpdated EventType = "transaction.updated"
	EventTransactionDeleted EventType = "transaction.deleted"
	EventBalanceReconciled  EventType = "wallet.reconciled"
)

// Event describes a committed mutation. WalletIDs lists every wallet whose
// balance the mutation may have changed.
type Event struct {
	Type          EventType `json:"type"`
	TransactionID string    `json:"transaction_id,omitempty"`
	WalletIDs     []string  `json:"wallet_ids,omitempty"`
	At            time.Time `json:"at"`
}

// EventSink receives events after the mutation committed. Errors are
// logged by the Ledger and never fail the mutation.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}

// NopEvents discards every event.
type NopEvents struct{}

func (NopEvents) Publish(context.Context, Event) error { return nil }
