// Package realtime is a connection-scoped room registry over websockets. It relays signaling and
// whiteboard frames between clients and carries server-side events to personal inboxes. Nothing
// is persisted: memberships die with their connection.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/noah-isme/labrecord-api/internal/models"
	"github.com/noah-isme/labrecord-api/internal/observability"
	"github.com/noah-isme/labrecord-api/internal/targeting"
)

const (
	defaultSendBuffer   = 32
	defaultPingInterval = 30 * time.Second

	originLocal  = "local"
	originRemote = "remote"
)

var (
	// ErrForbidden rejects a join or share the principal is not allowed to make.
	ErrForbidden = errors.New("room not accessible")
	// ErrNotMember rejects a relay into a room the connection has not joined.
	ErrNotMember = errors.New("connection has not joined room")
)

// Identity is the verified principal behind a connection.
type Identity struct {
	UserID   uint
	Role     string
	SchoolID uint
}

func (i Identity) staff() bool {
	switch strings.ToLower(i.Role) {
	case "admin", "teacher":
		return true
	default:
		return false
	}
}

// Broadcaster emits server-side events. Services depend on this rather than on the hub.
type Broadcaster interface {
	EmitToRoom(ctx context.Context, room, event string, data interface{}) error
	EmitToUser(ctx context.Context, userID uint, event string, data interface{}) error
}

// Directory resolves the class and group scope of a student and the school owning a class or group.
type Directory interface {
	Enrollments(ctx context.Context, studentID uint) ([]targeting.Enrollment, error)
	GroupIDs(ctx context.Context, studentID uint) ([]uint, error)
	ClassSchool(ctx context.Context, classID uint) (uint, error)
	GroupSchool(ctx context.Context, groupID uint) (uint, error)
}

// VivaDirectory looks up the participants of a viva session.
type VivaDirectory interface {
	GetByID(ctx context.Context, id uint) (models.VivaSession, error)
}

// Conn is the part of a websocket connection the hub drives.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Options configures a Hub. Redis and NATS are optional fan-out transports.
type Options struct {
	Directory    Directory
	Vivas        VivaDirectory
	Redis        *redis.Client
	NATS         *nats.Conn
	ChannelBase  string
	SendBuffer   int
	PingInterval time.Duration
	NodeID       string
	Logger       zerolog.Logger
}

// Hub tracks rooms on this node and mirrors emits to peer nodes.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*connection]struct{}
	conns map[string]*connection

	directory    Directory
	vivas        VivaDirectory
	schema       *jsonschema.Schema
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	nodeID       string
	sendBuffer   int
	pingInterval time.Duration
	logger       zerolog.Logger
}

type fanoutEvent struct {
	Source string          `json:"source"`
	Room   string          `json:"room,omitempty"`
	To     string          `json:"to,omitempty"`
	Event  string          `json:"event"`
	Frame  json.RawMessage `json:"frame"`
	SentAt time.Time       `json:"sent_at"`
}

// NewHub builds a hub. Call Start to attach the fan-out subscriptions.
func NewHub(opts Options) *Hub {
	sendBuffer := opts.SendBuffer
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	pingInterval := opts.PingInterval
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	nodeID := opts.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	redisChannel := ""
	natsSubject := ""
	if opts.ChannelBase != "" {
		redisChannel = opts.ChannelBase + ":realtime"
		natsSubject = strings.ReplaceAll(opts.ChannelBase, ":", ".") + ".realtime"
	}

	return &Hub{
		rooms:        make(map[string]map[*connection]struct{}),
		conns:        make(map[string]*connection),
		directory:    opts.Directory,
		vivas:        opts.Vivas,
		schema:       jsonschema.MustCompileString("envelope.json", envelopeSchema),
		redis:        opts.Redis,
		redisChannel: redisChannel,
		nats:         opts.NATS,
		natsSubject:  natsSubject,
		nodeID:       nodeID,
		sendBuffer:   sendBuffer,
		pingInterval: pingInterval,
		logger:       opts.Logger.With().Str("component", "realtime_hub").Logger(),
	}
}

// Start subscribes to peer traffic. The Redis subscription is confirmed before Start returns.
func (h *Hub) Start(ctx context.Context) error {
	if h.redis != nil && h.redisChannel != "" {
		pubsub := h.redis.Subscribe(ctx, h.redisChannel)
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			return fmt.Errorf("subscribe realtime redis channel: %w", err)
		}
		go h.consumeRedis(ctx, pubsub)
	}

	if h.nats != nil && h.natsSubject != "" {
		// Plain subscription: every node must see every event.
		sub, err := h.nats.Subscribe(h.natsSubject, func(msg *nats.Msg) {
			h.handleRemote(msg.Data)
		})
		if err != nil {
			return fmt.Errorf("subscribe realtime nats subject: %w", err)
		}
		go func() {
			<-ctx.Done()
			if err := sub.Drain(); err != nil {
				h.logger.Warn().Err(err).Msg("failed to drain realtime nats subscription")
			}
		}()
	}

	return nil
}

// NodeID identifies this hub on the fan-out transports.
func (h *Hub) NodeID() string {
	return h.nodeID
}

// Serve attaches conn to the hub and blocks until it disconnects.
func (h *Hub) Serve(ctx context.Context, conn Conn, identity Identity) {
	if ctx == nil {
		ctx = context.Background()
	}

	c := &connection{
		id:       uuid.NewString(),
		conn:     conn,
		identity: identity,
		hub:      h,
		send:     make(chan []byte, h.sendBuffer),
		closed:   make(chan struct{}),
		rooms:    make(map[string]struct{}),
	}

	h.register(c)
	observability.RealtimeConnections().Inc()

	c.emit(Envelope{Event: EventConnected, Data: mustRaw(map[string]string{"id": c.id})})

	go c.writer()
	c.reader(ctx)
}

// EmitToRoom delivers event to every member of room on every node.
func (h *Hub) EmitToRoom(ctx context.Context, room, event string, data interface{}) error {
	if _, err := ParseRoom(room); err != nil {
		return err
	}
	raw, err := marshalData(data)
	if err != nil {
		return err
	}

	frame, err := marshalFrame(Envelope{Event: event, Room: room, Data: raw})
	if err != nil {
		return err
	}

	h.deliverRoom(room, event, originLocal, frame, nil)
	return h.publish(ctx, fanoutEvent{Room: room, Event: event, Frame: frame})
}

// EmitToUser delivers event to the personal room of userID.
func (h *Hub) EmitToUser(ctx context.Context, userID uint, event string, data interface{}) error {
	return h.EmitToRoom(ctx, UserRoom(userID), event, data)
}

// MemberCount reports the local members of room.
func (h *Hub) MemberCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) register(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.id] = c
	h.logger.Debug().Str("connection_id", c.id).Uint("user_id", c.identity.UserID).Msg("realtime client connected")
}

func (h *Hub) unregister(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for room := range c.rooms {
		if members, ok := h.rooms[room]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	c.rooms = make(map[string]struct{})
	delete(h.conns, c.id)
	h.logger.Debug().Str("connection_id", c.id).Uint("user_id", c.identity.UserID).Msg("realtime client disconnected")
}

func (h *Hub) addMember(c *connection, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c.id]; !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*connection]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) removeMember(c *connection, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
}

func (h *Hub) isMember(c *connection, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][c]
	return ok
}

func (h *Hub) deliverRoom(room, event, origin string, frame []byte, exclude *connection) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[room] {
		if c == exclude {
			continue
		}
		if c.enqueue(frame) {
			observability.RealtimeEvents().WithLabelValues(event, origin).Inc()
		}
	}
}

func (h *Hub) deliverTo(connID, event, origin string, frame []byte) bool {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	if c.enqueue(frame) {
		observability.RealtimeEvents().WithLabelValues(event, origin).Inc()
	}
	return true
}

func (h *Hub) publish(ctx context.Context, event fanoutEvent) error {
	if (h.redis == nil || h.redisChannel == "") && (h.nats == nil || h.natsSubject == "") {
		return nil
	}

	event.Source = h.nodeID
	event.SentAt = time.Now().UTC()
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if h.redis != nil && h.redisChannel != "" {
		if err := h.redis.Publish(ctx, h.redisChannel, payload).Err(); err != nil {
			return err
		}
	}

	if h.nats != nil && h.natsSubject != "" {
		if err := h.nats.Publish(h.natsSubject, payload); err != nil {
			return err
		}
	}

	return nil
}

func (h *Hub) consumeRedis(ctx context.Context, pubsub *redis.PubSub) {
	defer func() {
		_ = pubsub.Close()
	}()
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
				return
			}
			h.logger.Error().Err(err).Msg("realtime redis subscription closed")
			return
		}
		h.handleRemote([]byte(msg.Payload))
	}
}

func (h *Hub) handleRemote(data []byte) {
	var event fanoutEvent
	if err := json.Unmarshal(data, &event); err != nil {
		h.logger.Warn().Err(err).Msg("invalid realtime fan-out event")
		return
	}

	if event.Source == h.nodeID {
		return
	}

	if event.To != "" {
		h.deliverTo(event.To, event.Event, originRemote, event.Frame)
		return
	}
	if event.Room != "" {
		h.deliverRoom(event.Room, event.Event, originRemote, event.Frame, nil)
	}
}

// authorise decides whether identity may join or address room. Staff reach class, group and viva
// rooms of their own school only.
func (h *Hub) authorise(ctx context.Context, identity Identity, room Room) error {
	if room.Kind == RoomUser {
		id, _ := room.NumericID()
		if id != identity.UserID {
			return ErrForbidden
		}
		return nil
	}

	switch room.Kind {
	case RoomViva:
		if h.vivas == nil {
			return ErrForbidden
		}
		id, _ := room.NumericID()
		session, err := h.vivas.GetByID(ctx, id)
		if err != nil {
			return ErrForbidden
		}
		if identity.staff() {
			return sameSchool(identity, session.SchoolID)
		}
		if session.StudentID != identity.UserID {
			return ErrForbidden
		}
		return nil
	case RoomClass, RoomGroup:
		if h.directory == nil {
			return ErrForbidden
		}
		id, _ := room.NumericID()
		if identity.staff() {
			school, err := h.roomSchool(ctx, room.Kind, id)
			if err != nil {
				return ErrForbidden
			}
			return sameSchool(identity, school)
		}

		enrollments, err := h.directory.Enrollments(ctx, identity.UserID)
		if err != nil {
			return fmt.Errorf("resolve enrollments: %w", err)
		}
		groups, err := h.directory.GroupIDs(ctx, identity.UserID)
		if err != nil {
			return fmt.Errorf("resolve groups: %w", err)
		}
		scope := targeting.ResolveScope(enrollments, groups)
		var ok bool
		if room.Kind == RoomClass {
			_, ok = scope.ClassIDs[id]
		} else {
			_, ok = scope.GroupIDs[id]
		}
		if !ok {
			return ErrForbidden
		}
		return nil
	default:
		return nil
	}
}

func (h *Hub) roomSchool(ctx context.Context, kind RoomKind, id uint) (uint, error) {
	if kind == RoomClass {
		return h.directory.ClassSchool(ctx, id)
	}
	return h.directory.GroupSchool(ctx, id)
}

func sameSchool(identity Identity, schoolID uint) error {
	if identity.SchoolID == 0 || identity.SchoolID != schoolID {
		return ErrForbidden
	}
	return nil
}

func mustRaw(v interface{}) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}
