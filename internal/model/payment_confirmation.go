package model

import (
	"time"

	"creditledger/pkg/money"
)

// ConfirmationStatus tracks the crediting attempt for one payment notification.
type ConfirmationStatus string

const (
	ConfirmationStatusPending   ConfirmationStatus = "pending_processing"
	ConfirmationStatusProcessed ConfirmationStatus = "processed"
	ConfirmationStatusFailed    ConfirmationStatus = "failed"
)

var ValidConfirmationTransitions = map[ConfirmationStatus][]ConfirmationStatus{
	ConfirmationStatusPending: {ConfirmationStatusProcessed, ConfirmationStatusFailed},
}

func (s ConfirmationStatus) Valid() bool {
	switch s {
	case ConfirmationStatusPending, ConfirmationStatusProcessed, ConfirmationStatusFailed:
		return true
	}
	return false
}

func (s ConfirmationStatus) CanTransitionTo(target ConfirmationStatus) bool {
	for _, allowed := range ValidConfirmationTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// PaymentConfirmation is the provenance record of one external payment
// notification. ProviderOrderID is unique: the insert collision on it is how
// a redelivered notification is detected.
type PaymentConfirmation struct {
	ID              string             `gorm:"type:varchar(64);primaryKey" json:"id"` // idempotency id
	ProviderOrderID string             `gorm:"type:varchar(128);uniqueIndex;not null" json:"provider_order_id"`
	EntityID        string             `gorm:"type:varchar(64);index;not null" json:"entity_id"`
	EntityType      EntityType         `gorm:"type:varchar(20);not null" json:"entity_type"`
	RequestedAmount money.Amount       `gorm:"not null" json:"requested_amount"`
	GrantedAmount   money.Amount       `gorm:"not null;default:0" json:"granted_amount"`
	Status          ConfirmationStatus `gorm:"type:varchar(32);index:idx_payment_confirmations_status_updated,priority:1;not null" json:"status"`
	RawPayload      string             `gorm:"type:text" json:"raw_payload,omitempty"`
	FailureReason   *string            `gorm:"type:varchar(512)" json:"failure_reason,omitempty"`
	ProcessedAt     *time.Time         `json:"processed_at,omitempty"`
	CreatedAt       time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time          `gorm:"autoUpdateTime;index:idx_payment_confirmations_status_updated,priority:2" json:"updated_at"`
}

func (PaymentConfirmation) TableName() string {
	return "payment_confirmations"
}

func (c *PaymentConfirmation) Entity() EntityRef {
	return EntityRef{Type: c.EntityType, ID: c.EntityID}
}
