package repository

import (
	"context"
	"errors"

	"creditledger/internal/apperr"
	"creditledger/internal/model"

	"gorm.io/gorm"
)

// DirectoryRepository resolves who pays for an interview.
type DirectoryRepository struct {
	db *gorm.DB
}

func NewDirectoryRepository(db *gorm.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

func (r *DirectoryRepository) ResolveInterviewOwner(ctx context.Context, interviewID string) (model.EntityRef, error) {
	var owner model.InterviewOwner
	err := r.db.WithContext(ctx).Where("interview_id = ?", interviewID).First(&owner).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.EntityRef{}, apperr.NotFound("owner of interview %s", interviewID)
		}
		return model.EntityRef{}, apperr.Storage("resolve interview owner", err)
	}
	return model.EntityRef{Type: owner.EntityType, ID: owner.EntityID}, nil
}

// SetInterviewOwner upserts the mapping. Used by seeding and tests.
func (r *DirectoryRepository) SetInterviewOwner(ctx context.Context, interviewID string, owner model.EntityRef) error {
	row := &model.InterviewOwner{InterviewID: interviewID, EntityType: owner.Type, EntityID: owner.ID}
	if err := r.db.WithContext(ctx).Save(row).Error; err != nil {
		return apperr.Storage("save interview owner", err)
	}
	return nil
}
