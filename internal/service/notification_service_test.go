package service

import (
	"context"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Devansh1910/mymedicos-mentor/internal/dto"
	"github.com/Devansh1910/mymedicos-mentor/internal/models"
)

type stubNotificationRepo struct {
	items  []models.Notification
	nextID uint
}

func (s *stubNotificationRepo) Create(_ context.Context, notification *models.Notification) error {
	s.nextID++
	notification.ID = s.nextID
	s.items = append(s.items, *notification)
	return nil
}

func (s *stubNotificationRepo) ListByUser(_ context.Context, userID string, _, _ int) ([]models.Notification, error) {
	var out []models.Notification
	for _, item := range s.items {
		if item.UserID == userID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *stubNotificationRepo) CountUnread(_ context.Context, userID string) (int64, error) {
	var count int64
	for _, item := range s.items {
		if item.UserID == userID && !item.Read {
			count++
		}
	}
	return count, nil
}

func (s *stubNotificationRepo) MarkRead(_ context.Context, id uint, userID string) (models.Notification, error) {
	for i, item := range s.items {
		if item.ID == id && item.UserID == userID {
			s.items[i].Read = true
			return s.items[i], nil
		}
	}
	return models.Notification{}, gorm.ErrRecordNotFound
}

func newNotificationServiceForTest(repo *stubNotificationRepo) NotificationService {
	return NewNotificationService(repo, nil, "", nil,
		validator.New(validator.WithRequiredStructEnabled()), zerolog.Nop())
}

func TestNotificationServicePublishSanitizesAndDelivers(t *testing.T) {
	repo := &stubNotificationRepo{}
	svc := newNotificationServiceForTest(repo)

	events, cleanup := svc.Subscribe("U1")
	defer cleanup()

	published, err := svc.Publish(context.Background(), dto.NotificationCreateRequest{
		UserID:  "U1",
		Type:    NotificationDoubtAccepted,
		Message: "<b>Your Anatomy doubt</b> was accepted",
	})
	require.NoError(t, err)
	require.Equal(t, "Your Anatomy doubt was accepted", published.Message)
	require.Equal(t, NotificationDoubtAccepted, published.Type)

	select {
	case got := <-events:
		require.Equal(t, published.ID, got.ID)
	default:
		t.Fatal("subscriber did not receive the notification")
	}
}

func TestNotificationServicePublishRejectsEmptyMessage(t *testing.T) {
	svc := newNotificationServiceForTest(&stubNotificationRepo{})

	_, err := svc.Publish(context.Background(), dto.NotificationCreateRequest{
		UserID:  "U1",
		Type:    NotificationSystem,
		Message: "<script>alert(1)</script>",
	})
	require.Error(t, err)
}

func TestNotificationServiceUnreadCountAndMarkRead(t *testing.T) {
	repo := &stubNotificationRepo{}
	svc := newNotificationServiceForTest(repo)

	first, err := svc.Publish(context.Background(), dto.NotificationCreateRequest{
		UserID: "U1", Type: NotificationDoubtRequested, Message: "New Anatomy doubt",
	})
	require.NoError(t, err)
	_, err = svc.Publish(context.Background(), dto.NotificationCreateRequest{
		UserID: "U1", Type: NotificationDoubtMessage, Message: "Your mentor replied",
	})
	require.NoError(t, err)

	count, err := svc.UnreadCount(context.Background(), "U1")
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	read, err := svc.MarkRead(context.Background(), first.ID, "U1")
	require.NoError(t, err)
	require.True(t, read.Read)

	count, err = svc.UnreadCount(context.Background(), "U1")
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	_, err = svc.MarkRead(context.Background(), 99, "U1")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
