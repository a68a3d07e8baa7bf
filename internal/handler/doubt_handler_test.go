package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Devansh1910/mymedicos-mentor/internal/dto"
	"github.com/Devansh1910/mymedicos-mentor/internal/handler"
	"github.com/Devansh1910/mymedicos-mentor/internal/service"
)

type mockDoubtService struct {
	createResponse dto.DoubtRequestResponse
	acceptResponse dto.DoubtRequestResponse
	message        dto.DoubtMessageResponse
	err            error

	lastRequester string
	lastMentor    string
	lastSender    string
	lastRole      string
	closeCalls    int
}

func (m *mockDoubtService) CreateRequest(_ context.Context, requesterID string, _ dto.DoubtCreateRequest) (dto.DoubtRequestResponse, error) {
	m.lastRequester = requesterID
	if m.err != nil {
		return dto.DoubtRequestResponse{}, m.err
	}
	return m.createResponse, nil
}

func (m *mockDoubtService) AcceptRequest(_ context.Context, mentorID, _ string) (dto.DoubtRequestResponse, error) {
	m.lastMentor = mentorID
	if m.err != nil {
		return dto.DoubtRequestResponse{}, m.err
	}
	return m.acceptResponse, nil
}

func (m *mockDoubtService) PostMessage(_ context.Context, _, senderID, senderRole string, _ dto.DoubtMessageCreateRequest) (dto.DoubtMessageResponse, error) {
	m.lastSender = senderID
	m.lastRole = senderRole
	if m.err != nil {
		return dto.DoubtMessageResponse{}, m.err
	}
	return m.message, nil
}

func (m *mockDoubtService) CloseThread(_ context.Context, _, _ string) error {
	m.closeCalls++
	return m.err
}

func (m *mockDoubtService) GetThread(_ context.Context, _, viewerID, viewerRole string) (dto.DoubtThreadResponse, error) {
	m.lastSender = viewerID
	m.lastRole = viewerRole
	return dto.DoubtThreadResponse{}, m.err
}

func (m *mockDoubtService) ListMessages(_ context.Context, _, viewerID, viewerRole string, _, _ int) ([]dto.DoubtMessageResponse, error) {
	m.lastSender = viewerID
	m.lastRole = viewerRole
	return nil, m.err
}

func (m *mockDoubtService) SubjectAvailability(_ context.Context, _ string) ([]dto.SubjectAvailability, error) {
	return nil, m.err
}

func newDoubtTestApp(svc *mockDoubtService, userID, role string) *fiber.App {
	app := fiber.New()
	group := app.Group("/api/v1/doubts", func(c *fiber.Ctx) error {
		c.Locals("user_id", userID)
		c.Locals("user_role", role)
		return c.Next()
	})
	logger := zerolog.New(io.Discard)
	handler.NewDoubtHandler(svc, nil, nil, logger, time.Second).Register(group)
	return app
}

func postJSON(t *testing.T, app *fiber.App, path string, payload interface{}) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestDoubtHandler_CreateRequestSuccess(t *testing.T) {
	svc := &mockDoubtService{createResponse: dto.DoubtRequestResponse{
		RequestID: "req-1",
		ChatID:    "chat-1",
		Subject:   "Anatomy",
	}}
	app := newDoubtTestApp(svc, "U1", "user")

	resp := postJSON(t, app, "/api/v1/doubts/requests", dto.DoubtCreateRequest{
		Subject:  "Anatomy",
		Question: "What is the hilum of the lung?",
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	require.Equal(t, "U1", svc.lastRequester)

	var body struct {
		Success bool                     `json:"success"`
		Data    dto.DoubtRequestResponse `json:"data"`
		Message string                   `json:"message"`
	}
	decodeResponse(t, resp, &body)
	require.True(t, body.Success)
	require.Equal(t, "doubt request created", body.Message)
	require.Equal(t, "chat-1", body.Data.ChatID)
}

func TestDoubtHandler_CreateRequestCooldown(t *testing.T) {
	svc := &mockDoubtService{err: &service.CooldownError{RetryAfter: 47 * time.Hour}}
	app := newDoubtTestApp(svc, "U1", "user")

	resp := postJSON(t, app, "/api/v1/doubts/requests", dto.DoubtCreateRequest{
		Subject:  "Anatomy",
		Question: "again?",
	})
	require.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "169200", resp.Header.Get("Retry-After"))
}

func TestDoubtHandler_CreateRequestInvalidSubject(t *testing.T) {
	svc := &mockDoubtService{err: service.ErrInvalidSubject}
	app := newDoubtTestApp(svc, "U1", "user")

	resp := postJSON(t, app, "/api/v1/doubts/requests", dto.DoubtCreateRequest{
		Subject:  "Astrology",
		Question: "hm",
	})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestDoubtHandler_AcceptRequiresMentorRole(t *testing.T) {
	svc := &mockDoubtService{}
	app := newDoubtTestApp(svc, "U1", "user")

	resp := postJSON(t, app, "/api/v1/doubts/requests/req-1/accept", nil)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	require.Empty(t, svc.lastMentor)
}

func TestDoubtHandler_AcceptConflictAndNotFound(t *testing.T) {
	svc := &mockDoubtService{err: service.ErrAlreadyAccepted}
	app := newDoubtTestApp(svc, "M2", "mentor")

	resp := postJSON(t, app, "/api/v1/doubts/requests/req-1/accept", nil)
	require.Equal(t, fiber.StatusConflict, resp.StatusCode)
	require.Equal(t, "M2", svc.lastMentor)

	svc.err = service.ErrRequestNotFound
	resp = postJSON(t, app, "/api/v1/doubts/requests/req-ghost/accept", nil)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestDoubtHandler_PostMessageErrorMapping(t *testing.T) {
	svc := &mockDoubtService{err: service.ErrThreadClosed}
	app := newDoubtTestApp(svc, "U1", "user")

	payload := dto.DoubtMessageCreateRequest{Body: "hello"}

	resp := postJSON(t, app, "/api/v1/doubts/threads/chat-1/messages", payload)
	require.Equal(t, fiber.StatusConflict, resp.StatusCode)
	require.Equal(t, "U1", svc.lastSender)
	require.Equal(t, "user", svc.lastRole)

	svc.err = service.ErrNotParticipant
	resp = postJSON(t, app, "/api/v1/doubts/threads/chat-1/messages", payload)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	svc.err = service.ErrThreadNotFound
	resp = postJSON(t, app, "/api/v1/doubts/threads/chat-ghost/messages", payload)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestDoubtHandler_CloseThread(t *testing.T) {
	svc := &mockDoubtService{}
	app := newDoubtTestApp(svc, "U1", "user")

	resp := postJSON(t, app, "/api/v1/doubts/threads/chat-1/close", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, 1, svc.closeCalls)

	var body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	decodeResponse(t, resp, &body)
	require.True(t, body.Success)
	require.Equal(t, "doubt thread closed", body.Message)
}

func TestDoubtHandler_CloseThreadRejectsNonParticipant(t *testing.T) {
	svc := &mockDoubtService{err: service.ErrNotParticipant}
	app := newDoubtTestApp(svc, "U9", "user")

	resp := postJSON(t, app, "/api/v1/doubts/threads/chat-1/close", nil)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestDoubtHandler_ThreadReadsPassViewerIdentity(t *testing.T) {
	svc := &mockDoubtService{}
	app := newDoubtTestApp(svc, "U1", "mentor")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/doubts/threads/chat-1", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "U1", svc.lastSender)
	require.Equal(t, "mentor", svc.lastRole)

	svc.err = service.ErrNotParticipant
	req = httptest.NewRequest(http.MethodGet, "/api/v1/doubts/threads/chat-1/messages", nil)
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestDoubtHandler_StorageFailureIsOpaque(t *testing.T) {
	svc := &mockDoubtService{err: io.ErrUnexpectedEOF}
	app := newDoubtTestApp(svc, "U1", "user")

	resp := postJSON(t, app, "/api/v1/doubts/requests", dto.DoubtCreateRequest{
		Subject:  "Anatomy",
		Question: "q",
	})
	require.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)

	var body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	decodeResponse(t, resp, &body)
	require.False(t, body.Success)
	require.Equal(t, "storage unavailable", body.Message)
}

func decodeResponse(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
}
