package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/Devansh1910/mymedicos-mentor/internal/models"
)

// ErrStaleFlag indicates a conditional flag update matched no rows because the
// flag was already flipped by another writer.
var ErrStaleFlag = errors.New("flag already set by another writer")

// DoubtRepository persists doubt requests, threads and messages.
type DoubtRepository interface {
	CreateRequestWithThread(ctx context.Context, request *models.DoubtRequest, thread *models.DoubtThread, initial *models.DoubtMessage) error
	GetRequest(ctx context.Context, requestID string) (models.DoubtRequest, error)
	LatestUnacceptedRequest(ctx context.Context, requesterID, subject string) (models.DoubtRequest, error)
	MarkAccepted(ctx context.Context, requestID, mentorID, mentorName string) (models.DoubtRequest, error)
	ListPendingRequests(ctx context.Context, mentorID string, limit int) ([]models.DoubtRequest, error)
	ListPendingRequestsByRequester(ctx context.Context, requesterID string) ([]models.DoubtRequest, error)

	GetThread(ctx context.Context, chatID string) (models.DoubtThread, error)
	MarkCompleted(ctx context.Context, chatID string) error
	ListThreadsByOwner(ctx context.Context, ownerID string, completed bool) ([]models.DoubtThread, error)
	ListThreadsByMentor(ctx context.Context, mentorID string, completed bool) ([]models.DoubtThread, error)

	AppendMessage(ctx context.Context, message *models.DoubtMessage) error
	ListMessages(ctx context.Context, chatID string, limit, offset int) ([]models.DoubtMessage, error)

	CountThreadsByMentor(ctx context.Context, mentorID string, completed bool) (int64, error)
	CountPendingRequests(ctx context.Context, mentorID string) (int64, error)
	CountMessagesBySender(ctx context.Context, mentorID, role string) (int64, error)
}

type doubtRepository struct {
	db *gorm.DB
}

// NewDoubtRepository constructs a GORM-backed repository.
func NewDoubtRepository(db *gorm.DB) DoubtRepository {
	return &doubtRepository{db: db}
}

func (r *doubtRepository) CreateRequestWithThread(ctx context.Context, request *models.DoubtRequest, thread *models.DoubtThread, initial *models.DoubtMessage) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(request).Error; err != nil {
			return err
		}
		if err := tx.Create(thread).Error; err != nil {
			return err
		}
		return tx.Create(initial).Error
	})
}

func (r *doubtRepository) GetRequest(ctx context.Context, requestID string) (models.DoubtRequest, error) {
	var request models.DoubtRequest
	if err := r.db.WithContext(ctx).First(&request, "request_id = ?", requestID).Error; err != nil {
		return models.DoubtRequest{}, err
	}
	return request, nil
}

func (r *doubtRepository) LatestUnacceptedRequest(ctx context.Context, requesterID, subject string) (models.DoubtRequest, error) {
	var request models.DoubtRequest
	err := r.db.WithContext(ctx).
		Where("requester_id = ? AND subject = ? AND accepted = ?", requesterID, subject, false).
		Order("created_at DESC").
		First(&request).Error
	if err != nil {
		return models.DoubtRequest{}, err
	}
	return request, nil
}

// MarkAccepted flips the accepted flag iff it is still unset, so two mentors
// racing to accept cannot both win, and binds the winner to the thread in the
// same transaction. A failed binding rolls the flag back.
func (r *doubtRepository) MarkAccepted(ctx context.Context, requestID, mentorID, mentorName string) (models.DoubtRequest, error) {
	var request models.DoubtRequest
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.DoubtRequest{}).
			Where("request_id = ? AND accepted = ?", requestID, false).
			Updates(map[string]interface{}{"accepted": true, "accepted_by": mentorID})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			if err := tx.First(&request, "request_id = ?", requestID).Error; err != nil {
				return err
			}
			return ErrStaleFlag
		}

		if err := tx.First(&request, "request_id = ?", requestID).Error; err != nil {
			return err
		}

		bind := tx.Model(&models.DoubtThread{}).
			Where("chat_id = ?", request.ChatID).
			Updates(map[string]interface{}{"mentor_id": mentorID, "mentor_name": mentorName})
		if bind.Error != nil {
			return bind.Error
		}
		if bind.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return models.DoubtRequest{}, err
	}
	return request, nil
}

func (r *doubtRepository) ListPendingRequests(ctx context.Context, mentorID string, limit int) ([]models.DoubtRequest, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var requests []models.DoubtRequest
	if err := r.db.WithContext(ctx).
		Where("mentor_id = ? AND accepted = ?", mentorID, false).
		Order("created_at DESC").
		Limit(limit).
		Find(&requests).Error; err != nil {
		return nil, err
	}

	return requests, nil
}

func (r *doubtRepository) ListPendingRequestsByRequester(ctx context.Context, requesterID string) ([]models.DoubtRequest, error) {
	var requests []models.DoubtRequest
	if err := r.db.WithContext(ctx).
		Where("requester_id = ? AND accepted = ?", requesterID, false).
		Order("created_at DESC").
		Find(&requests).Error; err != nil {
		return nil, err
	}
	return requests, nil
}

func (r *doubtRepository) GetThread(ctx context.Context, chatID string) (models.DoubtThread, error) {
	var thread models.DoubtThread
	if err := r.db.WithContext(ctx).First(&thread, "chat_id = ?", chatID).Error; err != nil {
		return models.DoubtThread{}, err
	}
	return thread, nil
}

// MarkCompleted is conditional the same way MarkAccepted is. ErrStaleFlag means
// the thread was already closed.
func (r *doubtRepository) MarkCompleted(ctx context.Context, chatID string) error {
	result := r.db.WithContext(ctx).Model(&models.DoubtThread{}).
		Where("chat_id = ? AND completed = ?", chatID, false).
		Update("completed", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var thread models.DoubtThread
		if err := r.db.WithContext(ctx).First(&thread, "chat_id = ?", chatID).Error; err != nil {
			return err
		}
		return ErrStaleFlag
	}
	return nil
}

func (r *doubtRepository) ListThreadsByOwner(ctx context.Context, ownerID string, completed bool) ([]models.DoubtThread, error) {
	var threads []models.DoubtThread
	if err := r.db.WithContext(ctx).
		Where("owner_id = ? AND completed = ?", ownerID, completed).
		Order("updated_at DESC").
		Find(&threads).Error; err != nil {
		return nil, err
	}
	return threads, nil
}

func (r *doubtRepository) ListThreadsByMentor(ctx context.Context, mentorID string, completed bool) ([]models.DoubtThread, error) {
	var threads []models.DoubtThread
	if err := r.db.WithContext(ctx).
		Where("mentor_id = ? AND completed = ?", mentorID, completed).
		Order("updated_at DESC").
		Find(&threads).Error; err != nil {
		return nil, err
	}
	return threads, nil
}

func (r *doubtRepository) AppendMessage(ctx context.Context, message *models.DoubtMessage) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(message).Error; err != nil {
			return err
		}

		return tx.Model(&models.DoubtThread{}).
			Where("chat_id = ?", message.ChatID).
			UpdateColumn("updated_at", message.SentAt).
			Error
	})
}

func (r *doubtRepository) ListMessages(ctx context.Context, chatID string, limit, offset int) ([]models.DoubtMessage, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var messages []models.DoubtMessage
	if err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("sent_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&messages).Error; err != nil {
		return nil, err
	}

	return messages, nil
}

func (r *doubtRepository) CountThreadsByMentor(ctx context.Context, mentorID string, completed bool) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.DoubtThread{}).
		Where("mentor_id = ? AND completed = ?", mentorID, completed).
		Count(&count).Error
	return count, err
}

func (r *doubtRepository) CountPendingRequests(ctx context.Context, mentorID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.DoubtRequest{}).
		Where("mentor_id = ? AND accepted = ?", mentorID, false).
		Count(&count).Error
	return count, err
}

func (r *doubtRepository) CountMessagesBySender(ctx context.Context, mentorID, role string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.DoubtMessage{}).
		Joins("JOIN doubt_threads ON doubt_threads.chat_id = doubt_messages.chat_id").
		Where("doubt_threads.mentor_id = ? AND doubt_messages.sender_role = ?", mentorID, role).
		Count(&count).Error
	return count, err
}
