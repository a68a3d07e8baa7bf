package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/Devansh1910/mymedicos-mentor/internal/models"
)

// MentorRepository persists mentor profiles and reviews.
type MentorRepository interface {
	GetProfile(ctx context.Context, mentorID string) (models.MentorProfile, error)
	UpsertProfile(ctx context.Context, profile *models.MentorProfile) error
	UpdateAvatar(ctx context.Context, mentorID, url string) error
	CreateReview(ctx context.Context, review *models.MentorReview) error
	ListReviews(ctx context.Context, mentorID string, limit, offset int) ([]models.MentorReview, int64, error)
	AverageRating(ctx context.Context, mentorID string) (float64, error)
}

type mentorRepository struct {
	db *gorm.DB
}

// NewMentorRepository constructs a GORM-backed repository.
func NewMentorRepository(db *gorm.DB) MentorRepository {
	return &mentorRepository{db: db}
}

func (r *mentorRepository) GetProfile(ctx context.Context, mentorID string) (models.MentorProfile, error) {
	var profile models.MentorProfile
	if err := r.db.WithContext(ctx).First(&profile, "mentor_id = ?", mentorID).Error; err != nil {
		return models.MentorProfile{}, err
	}
	return profile, nil
}

func (r *mentorRepository) UpsertProfile(ctx context.Context, profile *models.MentorProfile) error {
	return r.db.WithContext(ctx).Save(profile).Error
}

func (r *mentorRepository) UpdateAvatar(ctx context.Context, mentorID, url string) error {
	result := r.db.WithContext(ctx).Model(&models.MentorProfile{}).
		Where("mentor_id = ?", mentorID).
		Update("avatar_url", url)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *mentorRepository) CreateReview(ctx context.Context, review *models.MentorReview) error {
	return r.db.WithContext(ctx).Create(review).Error
}

func (r *mentorRepository) ListReviews(ctx context.Context, mentorID string, limit, offset int) ([]models.MentorReview, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	query := r.db.WithContext(ctx).Model(&models.MentorReview{}).Where("mentor_id = ?", mentorID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var reviews []models.MentorReview
	if err := query.
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&reviews).Error; err != nil {
		return nil, 0, err
	}

	return reviews, total, nil
}

func (r *mentorRepository) AverageRating(ctx context.Context, mentorID string) (float64, error) {
	var avg *float64
	err := r.db.WithContext(ctx).Model(&models.MentorReview{}).
		Where("mentor_id = ?", mentorID).
		Select("AVG(rating)").
		Scan(&avg).Error
	if err != nil {
		return 0, err
	}
	if avg == nil {
		return 0, nil
	}
	return *avg, nil
}
