package handler

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/Devansh1910/mymedicos-mentor/internal/dto"
	"github.com/Devansh1910/mymedicos-mentor/internal/service"
	"github.com/Devansh1910/mymedicos-mentor/internal/utils"
)

// MentorHandler exposes mentor profiles, reviews and workload stats.
type MentorHandler struct {
	service service.MentorService
	logger  zerolog.Logger
}

// NewMentorHandler constructs a handler instance.
func NewMentorHandler(service service.MentorService, logger zerolog.Logger) *MentorHandler {
	return &MentorHandler{
		service: service,
		logger:  logger.With().Str("component", "mentor_handler").Logger(),
	}
}

// Register binds the mentor routes. The me subrouter must already be gated to
// the mentor role.
func (h *MentorHandler) Register(public fiber.Router, me fiber.Router) {
	public.Get("/:id", h.getProfile)
	public.Get("/:id/reviews", h.listReviews)
	public.Post("/:id/reviews", h.createReview)

	me.Put("/profile", h.updateProfile)
	me.Post("/avatar", h.uploadAvatar)
	me.Get("/stats", h.stats)
}

func (h *MentorHandler) getProfile(c *fiber.Ctx) error {
	mentorID := strings.TrimSpace(c.Params("id"))
	if mentorID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "mentor id required")
	}

	profile, err := h.service.GetProfile(requestContext(c), mentorID)
	if err != nil {
		return h.sendMentorError(c, err)
	}

	return utils.SendSuccess(c, "mentor profile", profile)
}

func (h *MentorHandler) updateProfile(c *fiber.Ctx) error {
	mentorID := userIDFromContext(c)
	if mentorID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	var payload dto.MentorProfileUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	profile, err := h.service.UpdateProfile(requestContext(c), mentorID, payload)
	if err != nil {
		return h.sendMentorError(c, err)
	}

	return utils.SendSuccess(c, "mentor profile updated", profile)
}

func (h *MentorHandler) uploadAvatar(c *fiber.Ctx) error {
	mentorID := userIDFromContext(c)
	if mentorID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	file, err := c.FormFile("file")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "file is required")
	}

	result, err := h.service.UploadAvatar(requestContext(c), mentorID, file)
	if err != nil {
		return h.sendMentorError(c, err)
	}

	return utils.SendSuccess(c, "avatar uploaded", result)
}

func (h *MentorHandler) createReview(c *fiber.Ctx) error {
	authorID := userIDFromContext(c)
	if authorID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	mentorID := strings.TrimSpace(c.Params("id"))
	if mentorID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "mentor id required")
	}

	var payload dto.MentorReviewCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	review, err := h.service.CreateReview(requestContext(c), mentorID, authorID, payload)
	if err != nil {
		return h.sendMentorError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "review created", review)
}

func (h *MentorHandler) listReviews(c *fiber.Ctx) error {
	mentorID := strings.TrimSpace(c.Params("id"))
	if mentorID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "mentor id required")
	}

	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}
	offset, err := parseQueryInt(c, "offset")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid offset")
	}

	reviews, err := h.service.ListReviews(requestContext(c), mentorID, limit, offset)
	if err != nil {
		return h.sendMentorError(c, err)
	}

	return utils.SendSuccess(c, "mentor reviews", reviews)
}

func (h *MentorHandler) stats(c *fiber.Ctx) error {
	mentorID := userIDFromContext(c)
	if mentorID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	stats, err := h.service.Stats(requestContext(c), mentorID)
	if err != nil {
		return h.sendMentorError(c, err)
	}

	return utils.SendSuccess(c, "mentor stats", stats)
}

func (h *MentorHandler) sendMentorError(c *fiber.Ctx, err error) error {
	switch {
	case isValidationError(err):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrMentorNotFound):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrAvatarTooLarge):
		return utils.SendError(c, fiber.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, service.ErrAvatarNotImage):
		return utils.SendError(c, fiber.StatusUnsupportedMediaType, err.Error())
	default:
		logger := requestLogger(h.logger, c)
		logger.Error().Err(err).Msg("mentor operation failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "storage unavailable")
	}
}
