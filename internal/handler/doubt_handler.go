package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/Devansh1910/mymedicos-mentor/internal/dto"
	"github.com/Devansh1910/mymedicos-mentor/internal/middleware"
	"github.com/Devansh1910/mymedicos-mentor/internal/models"
	"github.com/Devansh1910/mymedicos-mentor/internal/service"
	"github.com/Devansh1910/mymedicos-mentor/internal/utils"
)

// DoubtHandler wires the ticket lifecycle, board and streaming endpoints.
type DoubtHandler struct {
	doubts  service.DoubtService
	boards  service.BoardService
	stream  service.DoubtStreamService
	logger  zerolog.Logger
	timeout time.Duration
}

// NewDoubtHandler constructs a handler instance.
func NewDoubtHandler(doubts service.DoubtService, boards service.BoardService, stream service.DoubtStreamService, logger zerolog.Logger, timeout time.Duration) *DoubtHandler {
	return &DoubtHandler{
		doubts:  doubts,
		boards:  boards,
		stream:  stream,
		logger:  logger.With().Str("component", "doubt_handler").Logger(),
		timeout: timeout,
	}
}

// Register binds the doubt routes under the provided router group.
func (h *DoubtHandler) Register(router fiber.Router) {
	router.Post("/requests", h.createRequest)
	router.Get("/subjects", h.subjectAvailability)
	router.Post("/requests/:id/accept", h.acceptRequest)

	router.Get("/board", h.board)
	router.Get("/board/stream", h.boardStream)

	router.Get("/threads/:chat_id", h.getThread)
	router.Get("/threads/:chat_id/messages", h.listMessages)
	router.Post("/threads/:chat_id/messages", h.postMessage)
	router.Post("/threads/:chat_id/close", h.closeThread)

	router.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("request_ctx", requestContext(c))
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	router.Get("/ws", websocket.New(h.handleConnection))
}

func (h *DoubtHandler) createRequest(c *fiber.Ctx) error {
	requesterID := userIDFromContext(c)
	if requesterID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	var payload dto.DoubtCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	request, err := h.doubts.CreateRequest(requestContext(c), requesterID, payload)
	if err != nil {
		return h.sendDoubtError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "doubt request created", request)
}

func (h *DoubtHandler) subjectAvailability(c *fiber.Ctx) error {
	requesterID := userIDFromContext(c)
	if requesterID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	subjects, err := h.doubts.SubjectAvailability(requestContext(c), requesterID)
	if err != nil {
		return h.sendDoubtError(c, err)
	}

	return utils.SendSuccess(c, "subject availability", subjects)
}

func (h *DoubtHandler) acceptRequest(c *fiber.Ctx) error {
	mentorID := userIDFromContext(c)
	if mentorID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	if role := userRoleFromContext(c); role != models.SenderRoleMentor && role != "admin" {
		return utils.SendError(c, fiber.StatusForbidden, "only mentors can accept requests")
	}

	requestID := strings.TrimSpace(c.Params("id"))
	if requestID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "request id required")
	}

	request, err := h.doubts.AcceptRequest(requestContext(c), mentorID, requestID)
	if err != nil {
		return h.sendDoubtError(c, err)
	}

	return utils.SendSuccess(c, "doubt request accepted", request)
}

func (h *DoubtHandler) board(c *fiber.Ctx) error {
	viewerID := userIDFromContext(c)
	if viewerID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	role := userRoleFromContext(c)
	if role == "" {
		role = models.SenderRoleUser
	}

	board, err := h.boards.Snapshot(requestContext(c), viewerID, role)
	if err != nil {
		if errors.Is(err, service.ErrInvalidViewerRole) {
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}
		return utils.SendError(c, fiber.StatusInternalServerError, err.Error())
	}

	return utils.SendSuccess(c, "ticket board", board)
}

func (h *DoubtHandler) boardStream(c *fiber.Ctx) error {
	viewerID := userIDFromContext(c)
	if viewerID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	ctx, cancel := context.WithCancel(requestContext(c))
	events, cleanup := h.boards.Subscribe(viewerID)

	keepAliveInterval := h.timeout
	if keepAliveInterval <= 0 {
		keepAliveInterval = 30 * time.Second
	}

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() {
			cleanup()
			cancel()
		}()

		ticker := time.NewTicker(keepAliveInterval / 2)
		defer ticker.Stop()

		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				if err := writeBoardEvent(w, event); err != nil {
					h.logger.Debug().Err(err).Msg("failed to write board event")
					return
				}
			case <-ticker.C:
				if err := writeKeepAlive(w); err != nil {
					h.logger.Debug().Err(err).Msg("failed to write board keepalive")
					return
				}
			case <-ctx.Done():
				return
			}
		}
	})

	return nil
}

func (h *DoubtHandler) getThread(c *fiber.Ctx) error {
	viewerID := userIDFromContext(c)
	if viewerID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	chatID := strings.TrimSpace(c.Params("chat_id"))
	if chatID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "chat id required")
	}

	thread, err := h.doubts.GetThread(requestContext(c), chatID, viewerID, viewerRole(c))
	if err != nil {
		return h.sendDoubtError(c, err)
	}

	return utils.SendSuccess(c, "doubt thread", thread)
}

func (h *DoubtHandler) listMessages(c *fiber.Ctx) error {
	viewerID := userIDFromContext(c)
	if viewerID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	chatID := strings.TrimSpace(c.Params("chat_id"))
	if chatID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "chat id required")
	}

	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}
	offset, err := parseQueryInt(c, "offset")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid offset")
	}

	messages, err := h.doubts.ListMessages(requestContext(c), chatID, viewerID, viewerRole(c), limit, offset)
	if err != nil {
		return h.sendDoubtError(c, err)
	}

	return utils.SendSuccess(c, "thread messages", messages)
}

func viewerRole(c *fiber.Ctx) string {
	if role := userRoleFromContext(c); role != "" {
		return role
	}
	return models.SenderRoleUser
}

func (h *DoubtHandler) postMessage(c *fiber.Ctx) error {
	senderID := userIDFromContext(c)
	if senderID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	chatID := strings.TrimSpace(c.Params("chat_id"))
	if chatID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "chat id required")
	}

	role := userRoleFromContext(c)
	if role == "" {
		role = models.SenderRoleUser
	}

	var payload dto.DoubtMessageCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	message, err := h.doubts.PostMessage(requestContext(c), chatID, senderID, role, payload)
	if err != nil {
		return h.sendDoubtError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message sent", message)
}

func (h *DoubtHandler) closeThread(c *fiber.Ctx) error {
	closedBy := userIDFromContext(c)
	if closedBy == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	chatID := strings.TrimSpace(c.Params("chat_id"))
	if chatID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "chat id required")
	}

	if err := h.doubts.CloseThread(requestContext(c), chatID, closedBy); err != nil {
		return h.sendDoubtError(c, err)
	}

	return utils.SendSuccess(c, "doubt thread closed", nil)
}

func (h *DoubtHandler) handleConnection(conn *websocket.Conn) {
	userID := websocketUserID(conn)
	if userID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(fiber.StatusUnauthorized, "user id missing"))
		_ = conn.Close()
		return
	}

	chatID := strings.TrimSpace(conn.Query("chat_id"))
	if chatID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(fiber.StatusBadRequest, "chat_id required"))
		_ = conn.Close()
		return
	}

	role, _ := conn.Locals("user_role").(string)
	if role == "" {
		role = models.SenderRoleUser
	}
	correlation := fmt.Sprint(conn.Locals("correlation_id"))
	baseCtx, _ := conn.Locals("request_ctx").(context.Context)
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	// Watchers are scoped the same way REST reads are.
	if _, err := h.doubts.GetThread(baseCtx, chatID, userID, role); err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "not a thread participant"))
		_ = conn.Close()
		return
	}

	opts := service.StreamConnectionOptions{
		UserID:        userID,
		Role:          role,
		ChatID:        chatID,
		CorrelationID: correlation,
		Context:       baseCtx,
	}

	h.logger.Info().Str("user_id", userID).Str("chat_id", chatID).Msg("thread websocket connected")
	h.stream.ServeConnection(conn, opts)
	h.logger.Info().Str("user_id", userID).Str("chat_id", chatID).Msg("thread websocket disconnected")
}

func (h *DoubtHandler) sendDoubtError(c *fiber.Ctx, err error) error {
	var cooldown *service.CooldownError
	switch {
	case errors.As(err, &cooldown):
		c.Set("Retry-After", strconv.FormatInt(int64(cooldown.RetryAfter.Seconds()), 10))
		return utils.SendError(c, fiber.StatusTooManyRequests, cooldown.Error())
	case errors.Is(err, service.ErrInvalidSubject),
		errors.Is(err, service.ErrInvalidSenderRole),
		isValidationError(err):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrAlreadyAccepted),
		errors.Is(err, service.ErrThreadClosed):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, service.ErrRequestNotFound),
		errors.Is(err, service.ErrThreadNotFound):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrNotParticipant):
		return utils.SendError(c, fiber.StatusForbidden, err.Error())
	default:
		logger := requestLogger(h.logger, c)
		logger.Error().Err(err).Msg("doubt operation failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "storage unavailable")
	}
}

func writeBoardEvent(w *bufio.Writer, event dto.BoardEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: board\n"); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	return w.Flush()
}

func writeKeepAlive(w *bufio.Writer) error {
	if _, err := fmt.Fprintf(w, ": keep-alive %s\n\n", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return w.Flush()
}

func websocketUserID(conn *websocket.Conn) string {
	if value := conn.Locals("user_id"); value != nil {
		if v, ok := value.(string); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}
