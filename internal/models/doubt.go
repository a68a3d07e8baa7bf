package models

import (
	"time"

	"gorm.io/datatypes"
)

// Sender roles recorded on doubt messages.
const (
	SenderRoleUser   = "user"
	SenderRoleMentor = "mentor"
)

// Subjects a doubt request may target.
var DoubtSubjects = []string{"Anatomy", "Physiology", "Chemistry", "Orthopedics", "Radiology", "Pharmacology"}

// DefaultSection is the exam section doubt requests are filed under.
const DefaultSection = "PGNEET"

// DoubtRequest is a student's ask for mentor help in a subject, prior to acceptance.
// Requests are never deleted; they age out of the cooldown window instead.
type DoubtRequest struct {
	RequestID   string            `gorm:"primaryKey;size:36" json:"request_id"`
	ChatID      string            `gorm:"size:36;uniqueIndex;not null" json:"chat_id"`
	Subject     string            `gorm:"size:64;index:idx_requester_subject" json:"subject"`
	Section     string            `gorm:"size:32;default:PGNEET" json:"section"`
	RequesterID string            `gorm:"size:64;index:idx_requester_subject" json:"requester_id"`
	MentorID    string            `gorm:"size:64;index" json:"mentor_id"`
	Accepted    bool              `gorm:"not null;default:false;index" json:"accepted"`
	AcceptedBy  *string           `gorm:"size:64" json:"accepted_by"`
	Metadata    datatypes.JSONMap `gorm:"type:json" json:"metadata"`
	CreatedAt   time.Time         `json:"created_at"`
}

// DoubtThread is the message exchange bound to a request. The chat id is shared
// with the originating request. Completed is terminal.
type DoubtThread struct {
	ChatID       string    `gorm:"primaryKey;size:36" json:"chat_id"`
	OwnerID      string    `gorm:"size:64;index" json:"owner_id"`
	SubjectLabel string    `gorm:"size:512;not null" json:"subject_label"`
	MentorID     *string   `gorm:"size:64;index" json:"mentor_id"`
	MentorName   *string   `gorm:"size:128" json:"mentor_name"`
	Completed    bool      `gorm:"not null;default:false;index" json:"completed"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DoubtMessage is a single append-only message within a thread. The numeric ID
// doubles as the insertion sequence used to break sent-at ties.
type DoubtMessage struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	MessageID  string    `gorm:"size:36;uniqueIndex;not null" json:"message_id"`
	ChatID     string    `gorm:"size:36;index;not null" json:"chat_id"`
	SenderRole string    `gorm:"size:16;not null" json:"sender_role"`
	Body       string    `gorm:"type:text;not null" json:"body"`
	SentAt     time.Time `gorm:"index" json:"sent_at"`
}

// IsValidSubject reports whether the subject belongs to the enumerated set.
func IsValidSubject(subject string) bool {
	for _, s := range DoubtSubjects {
		if s == subject {
			return true
		}
	}
	return false
}
