package dto

import (
	"time"

	"github.com/Devansh1910/mymedicos-mentor/internal/models"
)

// DoubtCreateRequest is the payload a student submits to open a new doubt ticket.
type DoubtCreateRequest struct {
	Subject  string `json:"subject" validate:"required,max=64"`
	Question string `json:"question" validate:"required,min=1,max=2000"`
	MentorID string `json:"mentor_id" validate:"omitempty,max=64"`
}

// DoubtMessageCreateRequest appends a message to an open thread.
type DoubtMessageCreateRequest struct {
	Body string `json:"body" validate:"required,min=1,max=4000"`
}

// DoubtRequestResponse is the serialized representation of a chat request.
type DoubtRequestResponse struct {
	RequestID   string    `json:"request_id"`
	ChatID      string    `json:"chat_id"`
	Subject     string    `json:"subject"`
	Section     string    `json:"section"`
	RequesterID string    `json:"requester_id"`
	MentorID    string    `json:"mentor_id,omitempty"`
	Accepted    bool      `json:"accepted"`
	AcceptedBy  *string   `json:"accepted_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// DoubtThreadResponse describes a thread summary returned to clients.
type DoubtThreadResponse struct {
	ChatID       string    `json:"chat_id"`
	OwnerID      string    `json:"owner_id"`
	SubjectLabel string    `json:"subject_label"`
	MentorID     *string   `json:"mentor_id,omitempty"`
	MentorName   *string   `json:"mentor_name,omitempty"`
	Completed    bool      `json:"completed"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DoubtMessageResponse is a serialized thread message.
type DoubtMessageResponse struct {
	MessageID  string    `json:"message_id"`
	ChatID     string    `json:"chat_id"`
	SenderRole string    `json:"sender_role"`
	Body       string    `json:"body"`
	SentAt     time.Time `json:"sent_at"`
}

// BoardResponse partitions a viewer's tickets into the three board tabs.
type BoardResponse struct {
	Live      []DoubtThreadResponse  `json:"live"`
	Requested []DoubtRequestResponse `json:"requested"`
	Closed    []DoubtThreadResponse  `json:"closed"`
}

// BoardEvent notifies subscribers that a board partition changed.
type BoardEvent struct {
	Kind    string    `json:"kind"`
	ChatID  string    `json:"chat_id"`
	OwnerID string    `json:"owner_id"`
	Mentor  string    `json:"mentor_id,omitempty"`
	At      time.Time `json:"at"`
}

// SubjectAvailability reports, per subject, whether the cooldown currently
// blocks a new request and for how long.
type SubjectAvailability struct {
	Subject           string `json:"subject"`
	Blocked           bool   `json:"blocked"`
	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty"`
}

// Board event kinds emitted by the lifecycle controller.
const (
	BoardEventRequested = "requested"
	BoardEventAccepted  = "accepted"
	BoardEventMessage   = "message"
	BoardEventClosed    = "closed"
)

// NewDoubtRequestResponse converts a model into a DTO.
func NewDoubtRequestResponse(model models.DoubtRequest) DoubtRequestResponse {
	return DoubtRequestResponse{
		RequestID:   model.RequestID,
		ChatID:      model.ChatID,
		Subject:     model.Subject,
		Section:     model.Section,
		RequesterID: model.RequesterID,
		MentorID:    model.MentorID,
		Accepted:    model.Accepted,
		AcceptedBy:  model.AcceptedBy,
		CreatedAt:   model.CreatedAt,
	}
}

// NewDoubtRequestResponseSlice converts a slice of models into DTOs.
func NewDoubtRequestResponseSlice(items []models.DoubtRequest) []DoubtRequestResponse {
	out := make([]DoubtRequestResponse, 0, len(items))
	for _, item := range items {
		out = append(out, NewDoubtRequestResponse(item))
	}
	return out
}

// NewDoubtThreadResponse converts a thread model into a DTO.
func NewDoubtThreadResponse(model models.DoubtThread) DoubtThreadResponse {
	return DoubtThreadResponse{
		ChatID:       model.ChatID,
		OwnerID:      model.OwnerID,
		SubjectLabel: model.SubjectLabel,
		MentorID:     model.MentorID,
		MentorName:   model.MentorName,
		Completed:    model.Completed,
		CreatedAt:    model.CreatedAt,
		UpdatedAt:    model.UpdatedAt,
	}
}

// NewDoubtThreadResponseSlice converts threads into DTOs.
func NewDoubtThreadResponseSlice(items []models.DoubtThread) []DoubtThreadResponse {
	out := make([]DoubtThreadResponse, 0, len(items))
	for _, item := range items {
		out = append(out, NewDoubtThreadResponse(item))
	}
	return out
}

// NewDoubtMessageResponse converts a message model into a DTO.
func NewDoubtMessageResponse(model models.DoubtMessage) DoubtMessageResponse {
	return DoubtMessageResponse{
		MessageID:  model.MessageID,
		ChatID:     model.ChatID,
		SenderRole: model.SenderRole,
		Body:       model.Body,
		SentAt:     model.SentAt,
	}
}

// NewDoubtMessageResponseSlice converts messages into DTOs.
func NewDoubtMessageResponseSlice(items []models.DoubtMessage) []DoubtMessageResponse {
	out := make([]DoubtMessageResponse, 0, len(items))
	for _, item := range items {
		out = append(out, NewDoubtMessageResponse(item))
	}
	return out
}
