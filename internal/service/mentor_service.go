package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/Devansh1910/mymedicos-mentor/internal/dto"
	"github.com/Devansh1910/mymedicos-mentor/internal/models"
	"github.com/Devansh1910/mymedicos-mentor/internal/repository"
)

var (
	// ErrMentorNotFound indicates no profile exists for the given mentor id.
	ErrMentorNotFound = errors.New("mentor profile not found")
	// ErrAvatarTooLarge indicates the avatar exceeded the configured limit.
	ErrAvatarTooLarge = errors.New("avatar exceeds maximum allowed size")
	// ErrAvatarNotImage indicates the upload is not an image.
	ErrAvatarNotImage = errors.New("avatar must be an image")
)

// FileStorage abstracts upload destinations.
type FileStorage interface {
	Upload(ctx context.Context, name string, reader io.Reader) (string, error)
}

// MentorService manages mentor profiles, reviews and workload stats.
type MentorService interface {
	GetProfile(ctx context.Context, mentorID string) (dto.MentorProfileResponse, error)
	UpdateProfile(ctx context.Context, mentorID string, payload dto.MentorProfileUpdateRequest) (dto.MentorProfileResponse, error)
	UploadAvatar(ctx context.Context, mentorID string, file *multipart.FileHeader) (dto.AvatarUploadResponse, error)
	CreateReview(ctx context.Context, mentorID, authorID string, payload dto.MentorReviewCreateRequest) (dto.MentorReviewResponse, error)
	ListReviews(ctx context.Context, mentorID string, limit, offset int) (dto.MentorReviewListResponse, error)
	Stats(ctx context.Context, mentorID string) (dto.MentorStatsResponse, error)
}

type mentorService struct {
	repo      repository.MentorRepository
	doubts    repository.DoubtRepository
	storage   FileStorage
	cache     *redis.Client
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer
	sanitizer *bluemonday.Policy
	maxAvatar int64
}

// NewMentorService builds the mentor profile and stats aggregator. Storage and
// cache may be nil; avatar uploads then fail fast and stats skip the cache.
func NewMentorService(repo repository.MentorRepository, doubts repository.DoubtRepository, storage FileStorage, cache *redis.Client, ttl time.Duration, maxAvatarMB int, validate *validator.Validate, logger zerolog.Logger) MentorService {
	if maxAvatarMB <= 0 {
		maxAvatarMB = 5
	}
	return &mentorService{
		repo:      repo,
		doubts:    doubts,
		storage:   storage,
		cache:     cache,
		cacheTTL:  ttl,
		validator: validate,
		logger:    logger.With().Str("component", "mentor_service").Logger(),
		tracer:    otel.Tracer("github.com/Devansh1910/mymedicos-mentor/internal/service/mentor"),
		sanitizer: bluemonday.StrictPolicy(),
		maxAvatar: int64(maxAvatarMB) * 1024 * 1024,
	}
}

func (s *mentorService) GetProfile(ctx context.Context, mentorID string) (dto.MentorProfileResponse, error) {
	profile, err := s.repo.GetProfile(ctx, mentorID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.MentorProfileResponse{}, ErrMentorNotFound
		}
		return dto.MentorProfileResponse{}, err
	}
	return dto.NewMentorProfileResponse(profile), nil
}

func (s *mentorService) UpdateProfile(ctx context.Context, mentorID string, payload dto.MentorProfileUpdateRequest) (dto.MentorProfileResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.MentorProfileResponse{}, err
	}

	spanCtx, span := s.tracer.Start(ctx, "mentor.update_profile", trace.WithAttributes(
		attribute.String("mentor.id", mentorID),
	))
	defer span.End()

	profile, err := s.repo.GetProfile(spanCtx, mentorID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			span.RecordError(err)
			return dto.MentorProfileResponse{}, err
		}
		profile = models.MentorProfile{MentorID: mentorID}
	}

	if payload.Name != nil {
		profile.Name = strings.TrimSpace(s.sanitizer.Sanitize(*payload.Name))
	}
	if payload.Speciality != nil {
		profile.Speciality = strings.TrimSpace(s.sanitizer.Sanitize(*payload.Speciality))
	}
	if payload.Location != nil {
		profile.Location = strings.TrimSpace(s.sanitizer.Sanitize(*payload.Location))
	}

	if err := s.repo.UpsertProfile(spanCtx, &profile); err != nil {
		span.RecordError(err)
		return dto.MentorProfileResponse{}, err
	}

	s.logger.Info().Str("mentor_id", mentorID).Msg("mentor profile updated")

	return dto.NewMentorProfileResponse(profile), nil
}

func (s *mentorService) UploadAvatar(ctx context.Context, mentorID string, file *multipart.FileHeader) (dto.AvatarUploadResponse, error) {
	spanCtx, span := s.tracer.Start(ctx, "mentor.upload_avatar", trace.WithAttributes(
		attribute.String("mentor.id", mentorID),
	))
	defer span.End()

	if s.storage == nil {
		err := errors.New("avatar storage is not configured")
		span.RecordError(err)
		return dto.AvatarUploadResponse{}, err
	}
	if file == nil {
		err := errors.New("file is required")
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return dto.AvatarUploadResponse{}, err
	}
	if file.Size > s.maxAvatar {
		span.RecordError(ErrAvatarTooLarge)
		span.SetStatus(codes.Error, "payload too large")
		return dto.AvatarUploadResponse{}, ErrAvatarTooLarge
	}

	handle, err := file.Open()
	if err != nil {
		span.RecordError(err)
		return dto.AvatarUploadResponse{}, err
	}
	defer handle.Close()

	buf := bytes.NewBuffer(nil)
	if _, err := io.Copy(buf, io.LimitReader(handle, s.maxAvatar+1)); err != nil {
		span.RecordError(err)
		return dto.AvatarUploadResponse{}, err
	}
	if int64(buf.Len()) > s.maxAvatar {
		span.RecordError(ErrAvatarTooLarge)
		span.SetStatus(codes.Error, "payload too large")
		return dto.AvatarUploadResponse{}, ErrAvatarTooLarge
	}

	mime := mimetype.Detect(buf.Bytes())
	span.SetAttributes(attribute.String("avatar.detected_mime", mime.String()))
	if !strings.HasPrefix(mime.String(), "image/") {
		span.RecordError(ErrAvatarNotImage)
		span.SetStatus(codes.Error, "type not allowed")
		return dto.AvatarUploadResponse{}, ErrAvatarNotImage
	}

	name := fmt.Sprintf("avatar-%s%s", mentorID, mime.Extension())
	url, err := s.storage.Upload(spanCtx, name, bytes.NewReader(buf.Bytes()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "storage failed")
		return dto.AvatarUploadResponse{}, err
	}

	if err := s.repo.UpdateAvatar(spanCtx, mentorID, url); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.AvatarUploadResponse{}, ErrMentorNotFound
		}
		span.RecordError(err)
		return dto.AvatarUploadResponse{}, err
	}

	s.logger.Info().Str("mentor_id", mentorID).Str("url", url).Msg("mentor avatar updated")
	span.SetStatus(codes.Ok, "stored")

	return dto.AvatarUploadResponse{
		URL:       url,
		SizeBytes: int64(buf.Len()),
		MimeType:  mime.String(),
	}, nil
}

func (s *mentorService) CreateReview(ctx context.Context, mentorID, authorID string, payload dto.MentorReviewCreateRequest) (dto.MentorReviewResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.MentorReviewResponse{}, err
	}

	spanCtx, span := s.tracer.Start(ctx, "mentor.create_review", trace.WithAttributes(
		attribute.String("mentor.id", mentorID),
	))
	defer span.End()

	if _, err := s.repo.GetProfile(spanCtx, mentorID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.MentorReviewResponse{}, ErrMentorNotFound
		}
		span.RecordError(err)
		return dto.MentorReviewResponse{}, err
	}

	review := models.MentorReview{
		MentorID:   mentorID,
		AuthorID:   authorID,
		AuthorName: strings.TrimSpace(s.sanitizer.Sanitize(payload.AuthorName)),
		Rating:     payload.Rating,
		Comment:    strings.TrimSpace(s.sanitizer.Sanitize(payload.Comment)),
	}

	if err := s.repo.CreateReview(spanCtx, &review); err != nil {
		span.RecordError(err)
		return dto.MentorReviewResponse{}, err
	}

	s.logger.Info().Str("mentor_id", mentorID).Int("rating", review.Rating).Msg("mentor review created")

	return dto.NewMentorReviewResponse(review), nil
}

func (s *mentorService) ListReviews(ctx context.Context, mentorID string, limit, offset int) (dto.MentorReviewListResponse, error) {
	reviews, total, err := s.repo.ListReviews(ctx, mentorID, limit, offset)
	if err != nil {
		return dto.MentorReviewListResponse{}, err
	}

	average, err := s.repo.AverageRating(ctx, mentorID)
	if err != nil {
		return dto.MentorReviewListResponse{}, err
	}

	return dto.MentorReviewListResponse{
		Reviews:       dto.NewMentorReviewResponseSlice(reviews),
		AverageRating: average,
		Total:         total,
	}, nil
}

// Stats aggregates the mentor's ticket counters, cached briefly since the home
// screen polls it.
func (s *mentorService) Stats(ctx context.Context, mentorID string) (dto.MentorStatsResponse, error) {
	cacheKey := fmt.Sprintf("mentor:stats:%s", mentorID)

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey).Result(); err == nil {
			var response dto.MentorStatsResponse
			if unmarshalErr := json.Unmarshal([]byte(cached), &response); unmarshalErr == nil {
				s.logger.Debug().Str("mentor_id", mentorID).Msg("mentor stats cache hit")
				return response, nil
			}
		} else if err != redis.Nil {
			s.logger.Warn().Err(err).Msg("failed to read mentor stats cache")
		}
	}

	live, err := s.doubts.CountThreadsByMentor(ctx, mentorID, false)
	if err != nil {
		return dto.MentorStatsResponse{}, err
	}
	closed, err := s.doubts.CountThreadsByMentor(ctx, mentorID, true)
	if err != nil {
		return dto.MentorStatsResponse{}, err
	}
	pending, err := s.doubts.CountPendingRequests(ctx, mentorID)
	if err != nil {
		return dto.MentorStatsResponse{}, err
	}
	sent, err := s.doubts.CountMessagesBySender(ctx, mentorID, models.SenderRoleMentor)
	if err != nil {
		return dto.MentorStatsResponse{}, err
	}

	response := dto.MentorStatsResponse{
		LiveTickets:    live,
		PendingTickets: pending,
		ClosedTickets:  closed,
		MessagesSent:   sent,
	}

	if s.cache != nil {
		if payload, err := json.Marshal(response); err == nil {
			if err := s.cache.Set(ctx, cacheKey, payload, s.cacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to store mentor stats cache")
			}
		}
	}

	return response, nil
}
