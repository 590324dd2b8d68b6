package model

import (
	"time"

	"creditledger/pkg/money"
)

// Balance is the credit balance of one entity.
//
// A record is created lazily the first time the balance is read, already
// holding the initial grant. InitialGrantApplied guards the grant so it is
// applied exactly once, including for records created by a credit before the
// first read. Records are never deleted.
type Balance struct {
	EntityID            string       `gorm:"type:varchar(64);primaryKey" json:"entity_id"`
	EntityType          EntityType   `gorm:"type:varchar(20);not null" json:"entity_type"`
	CurrentBalance      money.Amount `gorm:"not null;default:0" json:"current_balance"`
	InitialGrantApplied bool         `gorm:"not null;default:false" json:"initial_grant_applied"`
	Version             int64        `gorm:"not null;default:0" json:"version"` // bumped by every adjustment
	CreatedAt           time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Balance) TableName() string {
	return "balances"
}

func (b *Balance) Entity() EntityRef {
	return EntityRef{Type: b.EntityType, ID: b.EntityID}
}
