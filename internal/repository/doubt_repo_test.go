package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/Devansh1910/mymedicos-mentor/internal/models"
)

func setupDoubtTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.DoubtRequest{}, &models.DoubtThread{}, &models.DoubtMessage{}))
	return db
}

func seedTicket(t *testing.T, repo DoubtRepository, requestID, chatID, requesterID, subject string, createdAt time.Time) {
	t.Helper()
	request := models.DoubtRequest{
		RequestID:   requestID,
		ChatID:      chatID,
		Subject:     subject,
		Section:     models.DefaultSection,
		RequesterID: requesterID,
		MentorID:    "M1",
		CreatedAt:   createdAt,
	}
	thread := models.DoubtThread{
		ChatID:       chatID,
		OwnerID:      requesterID,
		SubjectLabel: "@" + subject + "/question",
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
	initial := models.DoubtMessage{
		MessageID:  requestID + "-m0",
		ChatID:     chatID,
		SenderRole: models.SenderRoleUser,
		Body:       thread.SubjectLabel,
		SentAt:     createdAt,
	}
	require.NoError(t, repo.CreateRequestWithThread(context.Background(), &request, &thread, &initial))
}

func TestDoubtRepositoryCreateAndFetch(t *testing.T) {
	repo := NewDoubtRepository(setupDoubtTestDB(t))
	now := time.Now().UTC().Truncate(time.Second)

	seedTicket(t, repo, "req-create-1", "chat-create-1", "U1", "Anatomy", now)

	request, err := repo.GetRequest(context.Background(), "req-create-1")
	require.NoError(t, err)
	require.Equal(t, "chat-create-1", request.ChatID)
	require.False(t, request.Accepted)

	thread, err := repo.GetThread(context.Background(), "chat-create-1")
	require.NoError(t, err)
	require.Equal(t, "U1", thread.OwnerID)
	require.Nil(t, thread.MentorID)

	messages, err := repo.ListMessages(context.Background(), "chat-create-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, "@Anatomy/question", messages[0].Body)

	_, err = repo.GetRequest(context.Background(), "req-missing")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestDoubtRepositoryMarkAcceptedIsConditional(t *testing.T) {
	repo := NewDoubtRepository(setupDoubtTestDB(t))
	now := time.Now().UTC()

	seedTicket(t, repo, "req-cas-1", "chat-cas-1", "U1", "Radiology", now)

	request, err := repo.MarkAccepted(context.Background(), "req-cas-1", "M1", "Dr. Mehta")
	require.NoError(t, err)
	require.True(t, request.Accepted)
	require.NotNil(t, request.AcceptedBy)
	require.Equal(t, "M1", *request.AcceptedBy)

	// The same transaction binds the mentor to the thread.
	thread, err := repo.GetThread(context.Background(), "chat-cas-1")
	require.NoError(t, err)
	require.NotNil(t, thread.MentorID)
	require.Equal(t, "M1", *thread.MentorID)
	require.NotNil(t, thread.MentorName)
	require.Equal(t, "Dr. Mehta", *thread.MentorName)

	_, err = repo.MarkAccepted(context.Background(), "req-cas-1", "M2", "Dr. Rao")
	require.ErrorIs(t, err, ErrStaleFlag)

	// The losing writer must not overwrite the winner.
	request, err = repo.GetRequest(context.Background(), "req-cas-1")
	require.NoError(t, err)
	require.Equal(t, "M1", *request.AcceptedBy)
	thread, err = repo.GetThread(context.Background(), "chat-cas-1")
	require.NoError(t, err)
	require.Equal(t, "M1", *thread.MentorID)

	_, err = repo.MarkAccepted(context.Background(), "req-missing", "M1", "Dr. Mehta")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestDoubtRepositoryMarkAcceptedRollsBackWithoutThread(t *testing.T) {
	db := setupDoubtTestDB(t)
	repo := NewDoubtRepository(db)

	request := models.DoubtRequest{
		RequestID:   "req-orphan-1",
		ChatID:      "chat-orphan-1",
		Subject:     "Anatomy",
		Section:     models.DefaultSection,
		RequesterID: "U1",
		MentorID:    "M1",
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, db.Create(&request).Error)

	_, err := repo.MarkAccepted(context.Background(), "req-orphan-1", "M1", "Dr. Mehta")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)

	stored, err := repo.GetRequest(context.Background(), "req-orphan-1")
	require.NoError(t, err)
	require.False(t, stored.Accepted, "a failed thread binding must roll the accept back")
}

func TestDoubtRepositoryMarkCompletedIsConditional(t *testing.T) {
	repo := NewDoubtRepository(setupDoubtTestDB(t))
	now := time.Now().UTC()

	seedTicket(t, repo, "req-close-1", "chat-close-1", "U1", "Chemistry", now)

	require.NoError(t, repo.MarkCompleted(context.Background(), "chat-close-1"))
	require.ErrorIs(t, repo.MarkCompleted(context.Background(), "chat-close-1"), ErrStaleFlag)
	require.ErrorIs(t, repo.MarkCompleted(context.Background(), "chat-missing"), gorm.ErrRecordNotFound)
}

func TestDoubtRepositoryLatestUnacceptedRequest(t *testing.T) {
	repo := NewDoubtRepository(setupDoubtTestDB(t))
	base := time.Now().UTC().Add(-10 * time.Hour)

	seedTicket(t, repo, "req-latest-1", "chat-latest-1", "U7", "Anatomy", base)
	seedTicket(t, repo, "req-latest-2", "chat-latest-2", "U7", "Anatomy", base.Add(2*time.Hour))
	seedTicket(t, repo, "req-latest-3", "chat-latest-3", "U7", "Physiology", base.Add(3*time.Hour))

	latest, err := repo.LatestUnacceptedRequest(context.Background(), "U7", "Anatomy")
	require.NoError(t, err)
	require.Equal(t, "req-latest-2", latest.RequestID)

	// Accepted requests no longer hold the window.
	_, err = repo.MarkAccepted(context.Background(), "req-latest-2", "M1", "Dr. Mehta")
	require.NoError(t, err)
	latest, err = repo.LatestUnacceptedRequest(context.Background(), "U7", "Anatomy")
	require.NoError(t, err)
	require.Equal(t, "req-latest-1", latest.RequestID)

	_, err = repo.LatestUnacceptedRequest(context.Background(), "U7", "Orthopedics")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestDoubtRepositoryMessageOrdering(t *testing.T) {
	repo := NewDoubtRepository(setupDoubtTestDB(t))
	now := time.Now().UTC().Truncate(time.Second)

	seedTicket(t, repo, "req-order-1", "chat-order-1", "U1", "Pharmacology", now.Add(-time.Minute))

	// Two messages share a timestamp; insertion order must break the tie.
	first := models.DoubtMessage{MessageID: "msg-order-1", ChatID: "chat-order-1", SenderRole: models.SenderRoleUser, Body: "first", SentAt: now}
	second := models.DoubtMessage{MessageID: "msg-order-2", ChatID: "chat-order-1", SenderRole: models.SenderRoleMentor, Body: "second", SentAt: now}
	earlier := models.DoubtMessage{MessageID: "msg-order-0", ChatID: "chat-order-1", SenderRole: models.SenderRoleUser, Body: "earlier", SentAt: now.Add(-30 * time.Second)}

	require.NoError(t, repo.AppendMessage(context.Background(), &first))
	require.NoError(t, repo.AppendMessage(context.Background(), &second))
	require.NoError(t, repo.AppendMessage(context.Background(), &earlier))

	messages, err := repo.ListMessages(context.Background(), "chat-order-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, messages, 4)

	bodies := []string{messages[0].Body, messages[1].Body, messages[2].Body, messages[3].Body}
	require.Equal(t, []string{"@Pharmacology/question", "earlier", "first", "second"}, bodies)

	thread, err := repo.GetThread(context.Background(), "chat-order-1")
	require.NoError(t, err)
	require.WithinDuration(t, earlier.SentAt, thread.UpdatedAt, time.Second)
}

func TestDoubtRepositoryMentorCounters(t *testing.T) {
	repo := NewDoubtRepository(setupDoubtTestDB(t))
	now := time.Now().UTC()

	seedTicket(t, repo, "req-count-1", "chat-count-1", "U1", "Anatomy", now)
	seedTicket(t, repo, "req-count-2", "chat-count-2", "U2", "Radiology", now)

	_, err := repo.MarkAccepted(context.Background(), "req-count-1", "M9", "Dr. Rao")
	require.NoError(t, err)

	reply := models.DoubtMessage{MessageID: "msg-count-1", ChatID: "chat-count-1", SenderRole: models.SenderRoleMentor, Body: "hello", SentAt: now}
	require.NoError(t, repo.AppendMessage(context.Background(), &reply))

	live, err := repo.CountThreadsByMentor(context.Background(), "M9", false)
	require.NoError(t, err)
	require.Equal(t, int64(1), live)

	sent, err := repo.CountMessagesBySender(context.Background(), "M9", models.SenderRoleMentor)
	require.NoError(t, err)
	require.Equal(t, int64(1), sent)
}
