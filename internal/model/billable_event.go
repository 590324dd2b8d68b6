package model

import (
	"time"

	"creditledger/pkg/money"
)

// BillableEventStatus is the billing outcome of one usage occurrence.
type BillableEventStatus string

const (
	EventStatusPendingCreditCheck  BillableEventStatus = "pending_credit_check"
	EventStatusNoCharge            BillableEventStatus = "no_charge"
	EventStatusPaidByCredits       BillableEventStatus = "paid_by_credits"
	EventStatusInsufficientCredits BillableEventStatus = "payment_failed_insufficient_credits"
)

// ValidEventTransitions lists the allowed edges. Terminal statuses have none.
var ValidEventTransitions = map[BillableEventStatus][]BillableEventStatus{
	EventStatusPendingCreditCheck: {
		EventStatusNoCharge,
		EventStatusPaidByCredits,
		EventStatusInsufficientCredits,
	},
}

func (s BillableEventStatus) Valid() bool {
	switch s {
	case EventStatusPendingCreditCheck, EventStatusNoCharge, EventStatusPaidByCredits, EventStatusInsufficientCredits:
		return true
	}
	return false
}

func (s BillableEventStatus) Terminal() bool {
	return s.Valid() && len(ValidEventTransitions[s]) == 0
}

func (s BillableEventStatus) CanTransitionTo(target BillableEventStatus) bool {
	for _, allowed := range ValidEventTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// BillableEvent records one metered usage occurrence and how it was billed.
// Cost is always derived from UsageSeconds on the server.
type BillableEvent struct {
	ID           string              `gorm:"type:varchar(64);primaryKey" json:"id"`
	EntityID     string              `gorm:"type:varchar(64);index;not null" json:"entity_id"`
	EntityType   EntityType          `gorm:"type:varchar(20);not null" json:"entity_type"`
	UsageSeconds int64               `gorm:"not null" json:"usage_seconds"`
	Cost         money.Amount        `gorm:"not null" json:"cost"`
	Status       BillableEventStatus `gorm:"type:varchar(40);index:idx_billable_events_status_updated,priority:1;not null" json:"status"`
	SourceRef    *string             `gorm:"type:varchar(128);uniqueIndex" json:"source_ref,omitempty"` // e.g. interview id
	CreatedAt    time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time           `gorm:"autoUpdateTime;index:idx_billable_events_status_updated,priority:2" json:"updated_at"`
}

func (BillableEvent) TableName() string {
	return "billable_events"
}

func (e *BillableEvent) Entity() EntityRef {
	return EntityRef{Type: e.EntityType, ID: e.EntityID}
}
