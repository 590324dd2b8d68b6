package model

// InterviewOwner maps an interview to the entity that pays for its usage.
// The table belongs to the interview product; the ledger only reads it.
type InterviewOwner struct {
	InterviewID string     `gorm:"type:varchar(64);primaryKey"`
	EntityType  EntityType `gorm:"type:varchar(20);not null"`
	EntityID    string     `gorm:"type:varchar(64);not null"`
}

func (InterviewOwner) TableName() string {
	return "interview_owners"
}
