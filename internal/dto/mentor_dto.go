package dto

import (
	"time"

	"github.com/Devansh1910/mymedicos-mentor/internal/models"
)

// MentorProfileUpdateRequest updates the mutable parts of a mentor profile.
type MentorProfileUpdateRequest struct {
	Name       *string `json:"name" validate:"omitempty,min=2,max=128"`
	Speciality *string `json:"speciality" validate:"omitempty,max=64"`
	Location   *string `json:"location" validate:"omitempty,max=128"`
}

// MentorProfileResponse is the public profile returned to clients.
type MentorProfileResponse struct {
	MentorID   string    `json:"mentor_id"`
	Name       string    `json:"name"`
	Speciality string    `json:"speciality,omitempty"`
	Location   string    `json:"location,omitempty"`
	AvatarURL  string    `json:"avatar_url,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// MentorReviewCreateRequest submits a review for a mentor.
type MentorReviewCreateRequest struct {
	AuthorName string `json:"author_name" validate:"omitempty,max=128"`
	Rating     int    `json:"rating" validate:"required,min=1,max=5"`
	Comment    string `json:"comment" validate:"omitempty,max=2000"`
}

// MentorReviewResponse is a serialized review.
type MentorReviewResponse struct {
	ID         uint      `json:"id"`
	MentorID   string    `json:"mentor_id"`
	AuthorName string    `json:"author_name,omitempty"`
	Rating     int       `json:"rating"`
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// MentorReviewListResponse bundles reviews with the aggregate rating.
type MentorReviewListResponse struct {
	Reviews       []MentorReviewResponse `json:"reviews"`
	AverageRating float64                `json:"average_rating"`
	Total         int64                  `json:"total"`
}

// MentorStatsResponse summarises a mentor's ticket load for the home dashboard.
type MentorStatsResponse struct {
	LiveTickets    int64 `json:"live_tickets"`
	PendingTickets int64 `json:"pending_tickets"`
	ClosedTickets  int64 `json:"closed_tickets"`
	MessagesSent   int64 `json:"messages_sent"`
}

// AvatarUploadResponse returns the stored avatar location.
type AvatarUploadResponse struct {
	URL       string `json:"url"`
	SizeBytes int64  `json:"size_bytes"`
	MimeType  string `json:"mime_type"`
}

// NewMentorProfileResponse converts a profile model into a DTO.
func NewMentorProfileResponse(model models.MentorProfile) MentorProfileResponse {
	return MentorProfileResponse{
		MentorID:   model.MentorID,
		Name:       model.Name,
		Speciality: model.Speciality,
		Location:   model.Location,
		AvatarURL:  model.AvatarURL,
		UpdatedAt:  model.UpdatedAt,
	}
}

// NewMentorReviewResponse converts a review model into a DTO.
func NewMentorReviewResponse(model models.MentorReview) MentorReviewResponse {
	return MentorReviewResponse{
		ID:         model.ID,
		MentorID:   model.MentorID,
		AuthorName: model.AuthorName,
		Rating:     model.Rating,
		Comment:    model.Comment,
		CreatedAt:  model.CreatedAt,
	}
}

// NewMentorReviewResponseSlice converts reviews into DTOs.
func NewMentorReviewResponseSlice(items []models.MentorReview) []MentorReviewResponse {
	out := make([]MentorReviewResponse, 0, len(items))
	for _, item := range items {
		out = append(out, NewMentorReviewResponse(item))
	}
	return out
}
