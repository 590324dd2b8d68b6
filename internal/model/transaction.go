package model

import (
	"time"

	"creditledger/pkg/money"
)

// ============================================================================
// Ledger transaction types
// ============================================================================

// TransactionType is the business reason of a balance change.
type TransactionType string

const (
	TransactionTypeInitial          TransactionType = "initial"           // one-off initial grant
	TransactionTypeRecharge         TransactionType = "recharge"          // payment confirmation
	TransactionTypeUsage            TransactionType = "usage"             // billable event debit
	TransactionTypeManualAdjustment TransactionType = "manual_adjustment" // operator top-up or correction
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeInitial, TransactionTypeRecharge, TransactionTypeUsage, TransactionTypeManualAdjustment:
		return true
	}
	return false
}

// ============================================================================
// Ledger transaction
// ============================================================================

// LedgerTransaction is one row of the append-only ledger.
//
// Rules:
//  1. Append only. Rows are never updated or deleted.
//  2. Amount is signed: credits positive, debits negative. The signed sum of
//     an entity's rows equals its balance whenever no write is in flight.
//  3. (Type, SourceID) is unique, so each originating record posts once.
//     SourceID is the entity id for initial, the event id for usage, the
//     confirmation id for recharge and the adjustment number otherwise.
type LedgerTransaction struct {
	ID                string          `gorm:"type:varchar(64);primaryKey" json:"id"`
	EntityID          string          `gorm:"type:varchar(64);index:idx_ledger_entity_created,priority:1;not null" json:"entity_id"`
	EntityType        EntityType      `gorm:"type:varchar(20);not null" json:"entity_type"`
	Amount            money.Amount    `gorm:"not null" json:"amount"`
	Type              TransactionType `gorm:"type:varchar(32);uniqueIndex:ux_ledger_type_source,priority:1;not null" json:"type"`
	SourceID          string          `gorm:"type:varchar(128);uniqueIndex:ux_ledger_type_source,priority:2;not null" json:"source_id"`
	Description       string          `gorm:"type:varchar(256)" json:"description"`
	ProviderReference *string         `gorm:"type:varchar(128);index" json:"provider_reference,omitempty"`
	BalanceAfter      money.Amount    `gorm:"not null" json:"balance_after"`
	CreatedAt         time.Time       `gorm:"autoCreateTime;index:idx_ledger_entity_created,priority:2" json:"created_at"`
}

func (LedgerTransaction) TableName() string {
	return "ledger_transactions"
}
