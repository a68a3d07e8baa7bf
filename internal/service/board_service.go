package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Devansh1910/mymedicos-mentor/internal/dto"
	"github.com/Devansh1910/mymedicos-mentor/internal/models"
	"github.com/Devansh1910/mymedicos-mentor/internal/observability"
	"github.com/Devansh1910/mymedicos-mentor/internal/repository"
)

const boardBufferSize = 16

// Viewer roles accepted by Snapshot.
const (
	BoardViewerUser   = models.SenderRoleUser
	BoardViewerMentor = models.SenderRoleMentor
)

// ErrInvalidViewerRole indicates an unknown board viewer role.
var ErrInvalidViewerRole = errors.New("viewer role must be user or mentor")

// BoardService projects doubt tickets into the three home-screen partitions
// and streams change events to connected viewers.
type BoardService interface {
	Snapshot(ctx context.Context, viewerID, viewerRole string) (dto.BoardResponse, error)
	Subscribe(viewerID string) (<-chan dto.BoardEvent, func())
	PublishEvent(ctx context.Context, event dto.BoardEvent)
	Start(ctx context.Context)
}

type boardService struct {
	repo        repository.DoubtRepository
	redis       *redis.Client
	redisStream string
	nats        *nats.Conn
	natsSubject string
	logger      zerolog.Logger
	tracer      trace.Tracer
	broker      *boardBroker
	nodeID      string
}

type boardEventEnvelope struct {
	Source string         `json:"source"`
	Event  dto.BoardEvent `json:"event"`
	SentAt time.Time      `json:"sent_at"`
}

type boardBroker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan dto.BoardEvent]struct{}
}

// NewBoardService constructs the board read model. Redis and NATS connections
// may be nil; events then stay local to this node.
func NewBoardService(repo repository.DoubtRepository, redisClient *redis.Client, channelBase string, natsConn *nats.Conn, logger zerolog.Logger) BoardService {
	stream := ""
	subject := ""
	if channelBase != "" {
		stream = channelBase + ":board"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".board"
	}

	return &boardService{
		repo:        repo,
		redis:       redisClient,
		redisStream: stream,
		nats:        natsConn,
		natsSubject: subject,
		logger:      logger.With().Str("component", "board_service").Logger(),
		tracer:      otel.Tracer("github.com/Devansh1910/mymedicos-mentor/internal/service/board"),
		broker: &boardBroker{
			subscribers: make(map[string]map[chan dto.BoardEvent]struct{}),
		},
		nodeID: uuid.NewString(),
	}
}

func (s *boardService) Start(ctx context.Context) {
	if s.redis != nil && s.redisStream != "" {
		go s.consumeRedis(ctx)
	}
	if s.nats != nil && s.natsSubject != "" {
		go s.consumeNATS(ctx)
	}
}

// Snapshot computes the three partitions from current storage state. Live and
// Closed hold the viewer's threads; Requested holds unaccepted requests, scoped
// to the viewing mentor or to the requester's own pending tickets.
func (s *boardService) Snapshot(ctx context.Context, viewerID, viewerRole string) (dto.BoardResponse, error) {
	attrs := []attribute.KeyValue{
		attribute.String("board.viewer_id", viewerID),
		attribute.String("board.viewer_role", viewerRole),
	}
	spanCtx, span := s.tracer.Start(ctx, "board.snapshot", trace.WithAttributes(attrs...))
	defer span.End()

	var (
		live      []models.DoubtThread
		closed    []models.DoubtThread
		requested []models.DoubtRequest
		err       error
	)

	switch viewerRole {
	case BoardViewerMentor:
		if live, err = s.repo.ListThreadsByMentor(spanCtx, viewerID, false); err == nil {
			if closed, err = s.repo.ListThreadsByMentor(spanCtx, viewerID, true); err == nil {
				requested, err = s.repo.ListPendingRequests(spanCtx, viewerID, 0)
			}
		}
	case BoardViewerUser:
		if live, err = s.repo.ListThreadsByOwner(spanCtx, viewerID, false); err == nil {
			if closed, err = s.repo.ListThreadsByOwner(spanCtx, viewerID, true); err == nil {
				requested, err = s.repo.ListPendingRequestsByRequester(spanCtx, viewerID)
			}
		}
	default:
		return dto.BoardResponse{}, ErrInvalidViewerRole
	}
	if err != nil {
		span.RecordError(err)
		return dto.BoardResponse{}, err
	}

	// A user's pending request also appears as an open thread; the live tab
	// shows only accepted conversations.
	if viewerRole == BoardViewerUser {
		live = filterAcceptedThreads(live)
	}

	return dto.BoardResponse{
		Live:      dto.NewDoubtThreadResponseSlice(live),
		Requested: dto.NewDoubtRequestResponseSlice(requested),
		Closed:    dto.NewDoubtThreadResponseSlice(closed),
	}, nil
}

func (s *boardService) Subscribe(viewerID string) (<-chan dto.BoardEvent, func()) {
	channel := make(chan dto.BoardEvent, boardBufferSize)

	s.broker.subscribe(viewerID, channel)
	observability.SSEClientsActive().Inc()

	cleanup := func() {
		s.broker.unsubscribe(viewerID, channel)
		observability.SSEClientsActive().Dec()
	}

	return channel, cleanup
}

// PublishEvent delivers the event locally and fans it out to peer nodes.
func (s *boardService) PublishEvent(ctx context.Context, event dto.BoardEvent) {
	s.deliver(event)
	if err := s.fanout(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("kind", event.Kind).Msg("failed to publish board event to broker")
	}
}

func (s *boardService) deliver(event dto.BoardEvent) {
	if event.OwnerID != "" {
		s.broker.broadcast(event.OwnerID, event)
	}
	if event.Mentor != "" && event.Mentor != event.OwnerID {
		s.broker.broadcast(event.Mentor, event)
	}
}

func (s *boardService) fanout(ctx context.Context, event dto.BoardEvent) error {
	if (s.redis == nil || s.redisStream == "") && (s.nats == nil || s.natsSubject == "") {
		return nil
	}

	envelope := boardEventEnvelope{
		Source: s.nodeID,
		Event:  event,
		SentAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	if s.redis != nil && s.redisStream != "" {
		if err := s.redis.Publish(ctx, s.redisStream, payload).Err(); err != nil {
			return err
		}
	}

	if s.nats != nil && s.natsSubject != "" {
		if err := s.nats.Publish(s.natsSubject, payload); err != nil {
			return err
		}
	}

	return nil
}

func (s *boardService) consumeRedis(ctx context.Context) {
	pubsub := s.redis.Subscribe(ctx, s.redisStream)
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Error().Err(err).Msg("board redis subscription closed")
			return
		}
		s.handleEnvelope([]byte(msg.Payload))
	}
}

func (s *boardService) consumeNATS(ctx context.Context) {
	sub, err := s.nats.QueueSubscribe(s.natsSubject, "mentor-board", func(msg *nats.Msg) {
		s.handleEnvelope(msg.Data)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to nats board subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drain board nats subscription")
		}
	}()
}

func (s *boardService) handleEnvelope(payload []byte) {
	var envelope boardEventEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		s.logger.Warn().Err(err).Msg("invalid board event payload")
		return
	}

	if envelope.Source == s.nodeID {
		return
	}

	s.deliver(envelope.Event)
}

func filterAcceptedThreads(threads []models.DoubtThread) []models.DoubtThread {
	out := threads[:0]
	for _, thread := range threads {
		if thread.MentorID != nil {
			out = append(out, thread)
		}
	}
	return out
}

func (b *boardBroker) subscribe(viewerID string, ch chan dto.BoardEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[viewerID]; !exists {
		b.subscribers[viewerID] = make(map[chan dto.BoardEvent]struct{})
	}
	b.subscribers[viewerID][ch] = struct{}{}
}

func (b *boardBroker) unsubscribe(viewerID string, ch chan dto.BoardEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subscribers, ok := b.subscribers[viewerID]; ok {
		delete(subscribers, ch)
		close(ch)
		if len(subscribers) == 0 {
			delete(b.subscribers, viewerID)
		}
	}
}

func (b *boardBroker) broadcast(viewerID string, event dto.BoardEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subscribers := b.subscribers[viewerID]
	for ch := range subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}
