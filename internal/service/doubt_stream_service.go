package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Devansh1910/mymedicos-mentor/internal/dto"
	"github.com/Devansh1910/mymedicos-mentor/internal/observability"
)

const streamSendBufferSize = 32

// StreamConnectionOptions wraps metadata extracted during the HTTP upgrade.
type StreamConnectionOptions struct {
	UserID        string
	Role          string
	ChatID        string
	CorrelationID string
	Context       context.Context
}

// DoubtStreamService manages websocket connections watching a doubt thread and
// relays appended messages to them in real time.
type DoubtStreamService interface {
	ServeConnection(conn *websocket.Conn, opts StreamConnectionOptions)
	BroadcastMessage(message dto.DoubtMessageResponse)
	Start(ctx context.Context)
}

// DoubtStreamRelay is the hub-backed implementation of DoubtStreamService.
type DoubtStreamRelay struct {
	doubts      DoubtService
	redis       *redis.Client
	redisStream string
	nats        *nats.Conn
	natsSubject string
	logger      zerolog.Logger
	hub         *streamHub
	nodeID      string
}

type streamHub struct {
	mu      sync.RWMutex
	threads map[string]map[*streamClient]struct{}
	log     zerolog.Logger
}

type streamClient struct {
	conn    *websocket.Conn
	send    chan dto.DoubtMessageResponse
	options StreamConnectionOptions
	service *DoubtStreamRelay
	closed  chan struct{}
	once    sync.Once
	baseCtx context.Context
}

type streamEvent struct {
	Source  string                   `json:"source"`
	Message dto.DoubtMessageResponse `json:"message"`
	SentAt  time.Time                `json:"sent_at"`
}

// NewDoubtStreamRelay creates the websocket relay for doubt threads. The
// lifecycle controller is wired in later via SetDoubtService to break the
// construction cycle between the two.
func NewDoubtStreamRelay(redisClient *redis.Client, channelBase string, natsConn *nats.Conn, logger zerolog.Logger) *DoubtStreamRelay {
	stream := ""
	subject := ""
	if channelBase != "" {
		stream = channelBase + ":threads"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".threads"
	}

	return &DoubtStreamRelay{
		redis:       redisClient,
		redisStream: stream,
		nats:        natsConn,
		natsSubject: subject,
		logger:      logger.With().Str("component", "doubt_stream_service").Logger(),
		hub: &streamHub{
			threads: make(map[string]map[*streamClient]struct{}),
			log:     logger.With().Str("component", "doubt_stream_hub").Logger(),
		},
		nodeID: uuid.NewString(),
	}
}

// SetDoubtService wires the lifecycle controller used to persist inbound
// websocket messages.
func (s *DoubtStreamRelay) SetDoubtService(doubts DoubtService) {
	s.doubts = doubts
}

func (s *DoubtStreamRelay) Start(ctx context.Context) {
	if s.redis != nil && s.redisStream != "" {
		go s.consumeRedis(ctx)
	}
	if s.nats != nil && s.natsSubject != "" {
		go s.consumeNATS(ctx)
	}
}

func (s *DoubtStreamRelay) ServeConnection(conn *websocket.Conn, opts StreamConnectionOptions) {
	baseCtx := opts.Context
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	client := &streamClient{
		conn:    conn,
		send:    make(chan dto.DoubtMessageResponse, streamSendBufferSize),
		options: opts,
		service: s,
		closed:  make(chan struct{}),
		baseCtx: baseCtx,
	}

	s.hub.register(client)
	observability.WSClientsActive().Inc()

	go client.writer()
	client.reader()
}

// BroadcastMessage delivers the message to local watchers and fans it out to
// peer nodes.
func (s *DoubtStreamRelay) BroadcastMessage(message dto.DoubtMessageResponse) {
	s.hub.broadcast(message.ChatID, message)
	if err := s.fanout(context.Background(), message); err != nil {
		s.logger.Warn().Err(err).Str("chat_id", message.ChatID).Msg("failed to publish thread message event")
	}
}

func (s *DoubtStreamRelay) fanout(ctx context.Context, message dto.DoubtMessageResponse) error {
	if (s.redis == nil || s.redisStream == "") && (s.nats == nil || s.natsSubject == "") {
		return nil
	}

	event := streamEvent{
		Source:  s.nodeID,
		Message: message,
		SentAt:  time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
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

func (s *DoubtStreamRelay) consumeRedis(ctx context.Context) {
	pubsub := s.redis.Subscribe(ctx, s.redisStream)
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Error().Err(err).Msg("thread stream redis subscription closed")
			return
		}
		s.handleEvent([]byte(msg.Payload))
	}
}

func (s *DoubtStreamRelay) consumeNATS(ctx context.Context) {
	sub, err := s.nats.QueueSubscribe(s.natsSubject, "mentor-threads", func(msg *nats.Msg) {
		s.handleEvent(msg.Data)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to nats threads subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drain thread stream nats subscription")
		}
	}()
}

func (s *DoubtStreamRelay) handleEvent(payload []byte) {
	var event streamEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		s.logger.Warn().Err(err).Msg("invalid thread message event payload")
		return
	}

	if event.Source == s.nodeID {
		return
	}

	s.hub.broadcast(event.Message.ChatID, event.Message)
}

func (h *streamHub) register(client *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	chatID := client.options.ChatID
	if _, exists := h.threads[chatID]; !exists {
		h.threads[chatID] = make(map[*streamClient]struct{})
	}
	h.threads[chatID][client] = struct{}{}
	h.log.Debug().Str("chat_id", chatID).Str("user_id", client.options.UserID).Msg("thread watcher connected")
}

func (h *streamHub) unregister(client *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	chatID := client.options.ChatID
	if clients, ok := h.threads[chatID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.threads, chatID)
		}
	}
	h.log.Debug().Str("chat_id", chatID).Str("user_id", client.options.UserID).Msg("thread watcher disconnected")
}

func (h *streamHub) broadcast(chatID string, message dto.DoubtMessageResponse) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := h.threads[chatID]
	for client := range clients {
		select {
		case client.send <- message:
		default:
			h.log.Warn().Str("chat_id", chatID).Str("user_id", client.options.UserID).Msg("dropping thread message for slow client")
		}
	}
}

func (c *streamClient) reader() {
	defer c.close()

	connCtx := c.baseCtx
	if connCtx == nil {
		connCtx = context.Background()
	}

	for {
		var payload dto.DoubtMessageCreateRequest
		if err := c.conn.ReadJSON(&payload); err != nil {
			c.service.logger.Debug().Err(err).Msg("thread stream read loop ended")
			return
		}

		if c.service.doubts == nil {
			c.service.logger.Warn().Msg("thread stream has no lifecycle controller wired")
			continue
		}

		// PostMessage broadcasts back through this hub, so the sender sees
		// its own message via the normal delivery path.
		if _, err := c.service.doubts.PostMessage(connCtx, c.options.ChatID, c.options.UserID, c.options.Role, payload); err != nil {
			c.service.logger.Warn().Err(err).Str("chat_id", c.options.ChatID).Msg("failed to post thread message")
			continue
		}
	}
}

func (c *streamClient) writer() {
	defer c.close()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				c.service.logger.Debug().Err(err).Msg("thread stream write loop terminated")
				return
			}
		case <-time.After(30 * time.Second):
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				c.service.logger.Debug().Err(err).Msg("thread stream ping failed")
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *streamClient) close() {
	c.once.Do(func() {
		close(c.closed)
		c.service.hub.unregister(c)
		observability.WSClientsActive().Dec()
		_ = c.conn.Close()
	})
}
