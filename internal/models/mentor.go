package models

import "time"

// MentorProfile holds the public-facing identity of a verified mentor.
type MentorProfile struct {
	MentorID   string    `gorm:"primaryKey;size:64" json:"mentor_id"`
	Name       string    `gorm:"size:128;not null" json:"name"`
	Speciality string    `gorm:"size:64" json:"speciality"`
	Location   string    `gorm:"size:128" json:"location"`
	AvatarURL  string    `gorm:"size:512" json:"avatar_url"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// MentorReview is a student-authored rating left for a mentor.
type MentorReview struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	MentorID   string    `gorm:"size:64;index;not null" json:"mentor_id"`
	AuthorID   string    `gorm:"size:64;index" json:"author_id"`
	AuthorName string    `gorm:"size:128" json:"author_name"`
	Rating     int       `gorm:"not null" json:"rating"`
	Comment    string    `gorm:"type:text" json:"comment"`
	CreatedAt  time.Time `json:"created_at"`
}
