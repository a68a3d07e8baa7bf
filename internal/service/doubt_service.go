package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/Devansh1910/mymedicos-mentor/internal/dto"
	"github.com/Devansh1910/mymedicos-mentor/internal/models"
	"github.com/Devansh1910/mymedicos-mentor/internal/observability"
	"github.com/Devansh1910/mymedicos-mentor/internal/repository"
)

// CooldownWindow is how long a repeat request for the same subject is suppressed.
const CooldownWindow = 48 * time.Hour

var (
	// ErrInvalidSubject indicates the subject is not in the enumerated set.
	ErrInvalidSubject = errors.New("subject not recognised")
	// ErrRequestNotFound indicates no chat request exists for the given id.
	ErrRequestNotFound = errors.New("doubt request not found")
	// ErrThreadNotFound indicates no thread exists for the given chat id.
	ErrThreadNotFound = errors.New("doubt thread not found")
	// ErrAlreadyAccepted indicates another mentor accepted the request first.
	ErrAlreadyAccepted = errors.New("request already accepted by another mentor")
	// ErrThreadClosed indicates the thread no longer accepts messages.
	ErrThreadClosed = errors.New("thread is closed")
	// ErrInvalidSenderRole indicates an unknown sender role on a message.
	ErrInvalidSenderRole = errors.New("sender role must be user or mentor")
	// ErrNotParticipant indicates the sender does not belong to the thread.
	ErrNotParticipant = errors.New("sender is not a participant of this thread")
)

// CooldownError reports how long the caller must wait before re-requesting.
type CooldownError struct {
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("cooldown active, retry after %s", e.RetryAfter.Round(time.Minute))
}

// BoardPublisher receives lifecycle events for the ticket board read model.
type BoardPublisher interface {
	PublishEvent(ctx context.Context, event dto.BoardEvent)
}

// NotificationPublisher exposes the subset of the notification service needed here.
type NotificationPublisher interface {
	Publish(ctx context.Context, payload dto.NotificationCreateRequest) (dto.NotificationResponse, error)
}

// MessageBroadcaster fans appended messages out to connected thread watchers.
type MessageBroadcaster interface {
	BroadcastMessage(message dto.DoubtMessageResponse)
}

// MentorDirectory resolves mentor display identity at acceptance time.
type MentorDirectory interface {
	GetProfile(ctx context.Context, mentorID string) (models.MentorProfile, error)
}

// DoubtService owns every valid state transition of the doubt request/thread
// lifecycle: OPEN_UNACCEPTED -> OPEN_ACCEPTED -> CLOSED.
type DoubtService interface {
	CreateRequest(ctx context.Context, requesterID string, payload dto.DoubtCreateRequest) (dto.DoubtRequestResponse, error)
	AcceptRequest(ctx context.Context, mentorID, requestID string) (dto.DoubtRequestResponse, error)
	PostMessage(ctx context.Context, chatID, senderID, senderRole string, payload dto.DoubtMessageCreateRequest) (dto.DoubtMessageResponse, error)
	CloseThread(ctx context.Context, chatID, closedBy string) error
	GetThread(ctx context.Context, chatID, viewerID, viewerRole string) (dto.DoubtThreadResponse, error)
	ListMessages(ctx context.Context, chatID, viewerID, viewerRole string, limit, offset int) ([]dto.DoubtMessageResponse, error)
	SubjectAvailability(ctx context.Context, requesterID string) ([]dto.SubjectAvailability, error)
}

type doubtService struct {
	repo            repository.DoubtRepository
	mentors         MentorDirectory
	boards          BoardPublisher
	notifications   NotificationPublisher
	stream          MessageBroadcaster
	validator       *validator.Validate
	logger          zerolog.Logger
	tracer          trace.Tracer
	sanitizer       *bluemonday.Policy
	defaultMentorID string
	now             func() time.Time
}

// NewDoubtService constructs the lifecycle controller. Board, notification and
// stream collaborators may be nil; transitions then run without fan-out.
func NewDoubtService(repo repository.DoubtRepository, mentors MentorDirectory, boards BoardPublisher, notifications NotificationPublisher, stream MessageBroadcaster, validate *validator.Validate, defaultMentorID string, logger zerolog.Logger) DoubtService {
	return &doubtService{
		repo:            repo,
		mentors:         mentors,
		boards:          boards,
		notifications:   notifications,
		stream:          stream,
		validator:       validate,
		logger:          logger.With().Str("component", "doubt_service").Logger(),
		tracer:          otel.Tracer("github.com/Devansh1910/mymedicos-mentor/internal/service/doubt"),
		sanitizer:       bluemonday.StrictPolicy(),
		defaultMentorID: defaultMentorID,
		now:             time.Now,
	}
}

func (s *doubtService) CreateRequest(ctx context.Context, requesterID string, payload dto.DoubtCreateRequest) (dto.DoubtRequestResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.DoubtRequestResponse{}, err
	}

	subject := strings.TrimSpace(payload.Subject)
	if !models.IsValidSubject(subject) {
		return dto.DoubtRequestResponse{}, ErrInvalidSubject
	}

	question := strings.TrimSpace(s.sanitizer.Sanitize(payload.Question))
	if question == "" {
		return dto.DoubtRequestResponse{}, errors.New("question empty after sanitization")
	}

	now := s.now().UTC()
	if blocked, retryAfter, err := s.cooldown(ctx, requesterID, subject, now); err != nil {
		return dto.DoubtRequestResponse{}, err
	} else if blocked {
		observability.DoubtCooldownRejected().WithLabelValues(subject).Inc()
		return dto.DoubtRequestResponse{}, &CooldownError{RetryAfter: retryAfter}
	}

	mentorID := strings.TrimSpace(payload.MentorID)
	if mentorID == "" {
		mentorID = s.defaultMentorID
	}

	attrs := []attribute.KeyValue{
		attribute.String("doubt.requester_id", requesterID),
		attribute.String("doubt.subject", subject),
	}
	spanCtx, span := s.tracer.Start(ctx, "doubt.create_request", trace.WithAttributes(attrs...))
	defer span.End()

	requestID := uuid.NewString()
	chatID := uuid.NewString()
	label := fmt.Sprintf("@%s/%s", subject, question)

	request := models.DoubtRequest{
		RequestID:   requestID,
		ChatID:      chatID,
		Subject:     subject,
		Section:     models.DefaultSection,
		RequesterID: requesterID,
		MentorID:    mentorID,
		Accepted:    false,
		Metadata:    datatypes.JSONMap{"source": "api"},
		CreatedAt:   now,
	}
	thread := models.DoubtThread{
		ChatID:       chatID,
		OwnerID:      requesterID,
		SubjectLabel: label,
		Completed:    false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	initial := models.DoubtMessage{
		MessageID:  uuid.NewString(),
		ChatID:     chatID,
		SenderRole: models.SenderRoleUser,
		Body:       label,
		SentAt:     now,
	}

	if err := s.repo.CreateRequestWithThread(spanCtx, &request, &thread, &initial); err != nil {
		span.RecordError(err)
		return dto.DoubtRequestResponse{}, err
	}

	s.logger.Info().
		Str("request_id", requestID).
		Str("chat_id", chatID).
		Str("requester_id", requesterID).
		Str("subject", subject).
		Msg("doubt request created")

	observability.DoubtRequestsCreated().WithLabelValues(subject).Inc()
	s.publishBoardEvent(spanCtx, dto.BoardEvent{
		Kind:    dto.BoardEventRequested,
		ChatID:  chatID,
		OwnerID: requesterID,
		Mentor:  mentorID,
		At:      now,
	})
	s.notify(spanCtx, mentorID, NotificationDoubtRequested, fmt.Sprintf("New %s doubt awaiting acceptance", subject))

	return dto.NewDoubtRequestResponse(request), nil
}

func (s *doubtService) AcceptRequest(ctx context.Context, mentorID, requestID string) (dto.DoubtRequestResponse, error) {
	attrs := []attribute.KeyValue{
		attribute.String("doubt.request_id", requestID),
		attribute.String("doubt.mentor_id", mentorID),
	}
	spanCtx, span := s.tracer.Start(ctx, "doubt.accept_request", trace.WithAttributes(attrs...))
	defer span.End()

	mentorName := s.mentorName(spanCtx, mentorID)
	request, err := s.repo.MarkAccepted(spanCtx, requestID, mentorID, mentorName)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrStaleFlag):
			return dto.DoubtRequestResponse{}, ErrAlreadyAccepted
		case errors.Is(err, gorm.ErrRecordNotFound):
			return dto.DoubtRequestResponse{}, ErrRequestNotFound
		default:
			span.RecordError(err)
			return dto.DoubtRequestResponse{}, err
		}
	}

	s.logger.Info().
		Str("request_id", requestID).
		Str("chat_id", request.ChatID).
		Str("mentor_id", mentorID).
		Msg("doubt request accepted")

	observability.DoubtRequestsAccepted().Inc()
	s.publishBoardEvent(spanCtx, dto.BoardEvent{
		Kind:    dto.BoardEventAccepted,
		ChatID:  request.ChatID,
		OwnerID: request.RequesterID,
		Mentor:  mentorID,
		At:      s.now().UTC(),
	})
	s.notify(spanCtx, request.RequesterID, NotificationDoubtAccepted, fmt.Sprintf("Your %s doubt was accepted by %s", request.Subject, mentorName))

	return dto.NewDoubtRequestResponse(request), nil
}

func (s *doubtService) PostMessage(ctx context.Context, chatID, senderID, senderRole string, payload dto.DoubtMessageCreateRequest) (dto.DoubtMessageResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.DoubtMessageResponse{}, err
	}

	if senderRole != models.SenderRoleUser && senderRole != models.SenderRoleMentor {
		return dto.DoubtMessageResponse{}, ErrInvalidSenderRole
	}

	body := strings.TrimSpace(s.sanitizer.Sanitize(payload.Body))
	if body == "" {
		return dto.DoubtMessageResponse{}, errors.New("message body empty after sanitization")
	}

	thread, err := s.repo.GetThread(ctx, chatID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.DoubtMessageResponse{}, ErrThreadNotFound
		}
		return dto.DoubtMessageResponse{}, err
	}
	if thread.Completed {
		return dto.DoubtMessageResponse{}, ErrThreadClosed
	}

	switch senderRole {
	case models.SenderRoleUser:
		if senderID != thread.OwnerID {
			return dto.DoubtMessageResponse{}, ErrNotParticipant
		}
	case models.SenderRoleMentor:
		if thread.MentorID != nil && senderID != *thread.MentorID {
			return dto.DoubtMessageResponse{}, ErrNotParticipant
		}
	}

	attrs := []attribute.KeyValue{
		attribute.String("doubt.chat_id", chatID),
		attribute.String("doubt.sender_role", senderRole),
	}
	spanCtx, span := s.tracer.Start(ctx, "doubt.post_message", trace.WithAttributes(attrs...))
	defer span.End()

	message := models.DoubtMessage{
		MessageID:  uuid.NewString(),
		ChatID:     chatID,
		SenderRole: senderRole,
		Body:       body,
		SentAt:     s.now().UTC(),
	}

	if err := s.repo.AppendMessage(spanCtx, &message); err != nil {
		span.RecordError(err)
		return dto.DoubtMessageResponse{}, err
	}

	response := dto.NewDoubtMessageResponse(message)
	if s.stream != nil {
		s.stream.BroadcastMessage(response)
	}

	observability.DoubtMessagesSent().WithLabelValues(senderRole).Inc()
	s.publishBoardEvent(spanCtx, dto.BoardEvent{
		Kind:    dto.BoardEventMessage,
		ChatID:  chatID,
		OwnerID: thread.OwnerID,
		Mentor:  derefString(thread.MentorID),
		At:      message.SentAt,
	})
	s.notifyCounterpart(spanCtx, thread, senderRole)

	return response, nil
}

// CloseThread flips the completed flag once; repeat calls by a participant are
// treated as a success so close stays safe to retry. Only the thread owner or
// the bound mentor may close.
func (s *doubtService) CloseThread(ctx context.Context, chatID, closedBy string) error {
	attrs := []attribute.KeyValue{
		attribute.String("doubt.chat_id", chatID),
		attribute.String("doubt.closed_by", closedBy),
	}
	spanCtx, span := s.tracer.Start(ctx, "doubt.close_thread", trace.WithAttributes(attrs...))
	defer span.End()

	thread, err := s.repo.GetThread(spanCtx, chatID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrThreadNotFound
		}
		span.RecordError(err)
		return err
	}

	if closedBy != thread.OwnerID && (thread.MentorID == nil || closedBy != *thread.MentorID) {
		return ErrNotParticipant
	}

	if err := s.repo.MarkCompleted(spanCtx, chatID); err != nil {
		switch {
		case errors.Is(err, repository.ErrStaleFlag):
			s.logger.Debug().Str("chat_id", chatID).Msg("thread already closed")
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			return ErrThreadNotFound
		default:
			span.RecordError(err)
			return err
		}
	}

	s.logger.Info().Str("chat_id", chatID).Str("closed_by", closedBy).Msg("doubt thread closed")

	observability.DoubtThreadsClosed().Inc()
	s.publishBoardEvent(spanCtx, dto.BoardEvent{
		Kind:    dto.BoardEventClosed,
		ChatID:  chatID,
		OwnerID: thread.OwnerID,
		Mentor:  derefString(thread.MentorID),
		At:      s.now().UTC(),
	})
	s.notify(spanCtx, thread.OwnerID, NotificationDoubtClosed, "Your doubt ticket has been closed")

	return nil
}

func (s *doubtService) GetThread(ctx context.Context, chatID, viewerID, viewerRole string) (dto.DoubtThreadResponse, error) {
	thread, err := s.loadThreadForViewer(ctx, chatID, viewerID, viewerRole)
	if err != nil {
		return dto.DoubtThreadResponse{}, err
	}
	return dto.NewDoubtThreadResponse(thread), nil
}

func (s *doubtService) ListMessages(ctx context.Context, chatID, viewerID, viewerRole string, limit, offset int) ([]dto.DoubtMessageResponse, error) {
	if _, err := s.loadThreadForViewer(ctx, chatID, viewerID, viewerRole); err != nil {
		return nil, err
	}

	messages, err := s.repo.ListMessages(ctx, chatID, limit, offset)
	if err != nil {
		return nil, err
	}
	return dto.NewDoubtMessageResponseSlice(messages), nil
}

// loadThreadForViewer fetches a thread and enforces read scoping. The owner
// always sees their thread; mentors see threads bound to them, plus still
// unbound ones awaiting acceptance; admins see everything.
func (s *doubtService) loadThreadForViewer(ctx context.Context, chatID, viewerID, viewerRole string) (models.DoubtThread, error) {
	thread, err := s.repo.GetThread(ctx, chatID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.DoubtThread{}, ErrThreadNotFound
		}
		return models.DoubtThread{}, err
	}

	switch {
	case viewerRole == "admin":
	case viewerID == thread.OwnerID:
	case viewerRole == models.SenderRoleMentor && (thread.MentorID == nil || *thread.MentorID == viewerID):
	default:
		return models.DoubtThread{}, ErrNotParticipant
	}

	return thread, nil
}

func (s *doubtService) SubjectAvailability(ctx context.Context, requesterID string) ([]dto.SubjectAvailability, error) {
	pending, err := s.repo.ListPendingRequestsByRequester(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	latestBySubject := make(map[string]time.Time, len(pending))
	for _, request := range pending {
		if existing, ok := latestBySubject[request.Subject]; !ok || request.CreatedAt.After(existing) {
			latestBySubject[request.Subject] = request.CreatedAt
		}
	}

	out := make([]dto.SubjectAvailability, 0, len(models.DoubtSubjects))
	for _, subject := range models.DoubtSubjects {
		entry := dto.SubjectAvailability{Subject: subject}
		if createdAt, ok := latestBySubject[subject]; ok {
			if elapsed := now.Sub(createdAt); elapsed < CooldownWindow {
				entry.Blocked = true
				entry.RetryAfterSeconds = int64((CooldownWindow - elapsed).Seconds())
			}
		}
		out = append(out, entry)
	}

	return out, nil
}

// cooldown is the sliding-window check evaluated at request-creation time: the
// most recent unaccepted request for (requester, subject) blocks a new one for
// 48 hours, then simply ages out without being cancelled.
func (s *doubtService) cooldown(ctx context.Context, requesterID, subject string, now time.Time) (bool, time.Duration, error) {
	latest, err := s.repo.LatestUnacceptedRequest(ctx, requesterID, subject)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, 0, nil
		}
		return false, 0, err
	}

	elapsed := now.Sub(latest.CreatedAt)
	if elapsed < CooldownWindow {
		return true, CooldownWindow - elapsed, nil
	}
	return false, 0, nil
}

func (s *doubtService) mentorName(ctx context.Context, mentorID string) string {
	if s.mentors != nil {
		if profile, err := s.mentors.GetProfile(ctx, mentorID); err == nil && profile.Name != "" {
			return profile.Name
		}
	}
	return "Mentor"
}

func (s *doubtService) publishBoardEvent(ctx context.Context, event dto.BoardEvent) {
	if s.boards == nil {
		return
	}
	s.boards.PublishEvent(ctx, event)
}

func (s *doubtService) notify(ctx context.Context, userID, kind, message string) {
	if s.notifications == nil || userID == "" {
		return
	}
	payload := dto.NotificationCreateRequest{UserID: userID, Type: kind, Message: message}
	if _, err := s.notifications.Publish(ctx, payload); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to publish doubt notification")
	}
}

func (s *doubtService) notifyCounterpart(ctx context.Context, thread models.DoubtThread, senderRole string) {
	if senderRole == models.SenderRoleUser {
		if thread.MentorID != nil {
			s.notify(ctx, *thread.MentorID, NotificationDoubtMessage, "New message in a doubt ticket you accepted")
		}
		return
	}
	s.notify(ctx, thread.OwnerID, NotificationDoubtMessage, "Your mentor replied to your doubt")
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
