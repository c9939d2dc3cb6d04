package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/noah-isme/labrecord-api/internal/observability"
)

type connection struct {
	id       string
	conn     Conn
	identity Identity
	hub      *Hub
	send     chan []byte
	closed   chan struct{}
	once     sync.Once

	// rooms is guarded by hub.mu.
	rooms map[string]struct{}
}

// reader processes inbound frames one at a time, so a connection's events keep their order.
func (c *connection) reader(ctx context.Context) {
	defer c.close()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.hub.logger.Debug().Err(err).Str("connection_id", c.id).Msg("realtime read loop ended")
			return
		}

		env, err := decodeEnvelope(c.hub.schema, raw)
		if err != nil {
			c.fail("", err)
			continue
		}

		if err := c.handle(ctx, env); err != nil {
			c.hub.logger.Debug().Err(err).Str("connection_id", c.id).Str("event", env.Event).Msg("realtime event rejected")
			c.fail(env.Event, err)
		}

		select {
		case <-c.closed:
			return
		default:
		}
	}
}

func (c *connection) writer() {
	ticker := time.NewTicker(c.hub.pingInterval)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case frame := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.hub.logger.Debug().Err(err).Str("connection_id", c.id).Msg("realtime write loop terminated")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				c.hub.logger.Debug().Err(err).Str("connection_id", c.id).Msg("realtime ping failed")
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *connection) close() {
	c.once.Do(func() {
		close(c.closed)
		c.hub.unregister(c)
		_ = c.conn.Close()
		observability.RealtimeConnections().Dec()
	})
}

// enqueue never blocks; a full buffer drops the frame.
func (c *connection) enqueue(frame []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		observability.RealtimeDropped().Inc()
		c.hub.logger.Warn().Str("connection_id", c.id).Uint("user_id", c.identity.UserID).Msg("dropping realtime frame for slow client")
		return false
	}
}

func (c *connection) emit(env Envelope) {
	frame, err := marshalFrame(env)
	if err != nil {
		c.hub.logger.Warn().Err(err).Str("event", env.Event).Msg("failed to marshal realtime frame")
		return
	}
	c.enqueue(frame)
}

func (c *connection) fail(event string, err error) {
	c.emit(Envelope{
		Event: EventError,
		Data:  mustRaw(map[string]string{"event": event, "message": err.Error()}),
	})
}

func (c *connection) handle(ctx context.Context, env Envelope) error {
	switch env.Event {
	case EventJoinUser:
		return c.joinUser(ctx, env)
	case EventJoinViva:
		return c.join(ctx, RoomViva, env)
	case EventJoinClass:
		return c.join(ctx, RoomClass, env)
	case EventJoinGroup:
		return c.join(ctx, RoomGroup, env)
	case EventJoinWhiteboard:
		return c.join(ctx, RoomWhiteboard, env)
	case EventLeaveViva:
		return c.leave(RoomViva, env)
	case EventLeaveWhiteboard:
		return c.leave(RoomWhiteboard, env)
	case EventLeaveRoom:
		return c.leaveRoom(env.Room)
	case EventVivaOffer, EventVivaAnswer, EventVivaICECandidate, EventVivaQuestion, EventVivaResponse:
		return c.relay(ctx, RoomViva, env)
	case EventWhiteboardDraw, EventWhiteboardClear, EventWhiteboardRequestState:
		return c.relay(ctx, RoomWhiteboard, env)
	case EventWhiteboardState:
		return c.reply(ctx, env)
	case EventWhiteboardShare:
		return c.share(ctx, env)
	default:
		return fmt.Errorf("unsupported event %q", env.Event)
	}
}

// roomFor resolves the room of a join or leave: the explicit room field wins, then the id payload.
func roomFor(kind RoomKind, env Envelope) (Room, error) {
	if env.Room != "" {
		room, err := ParseRoom(env.Room)
		if err != nil {
			return Room{}, err
		}
		if room.Kind != kind {
			return Room{}, fmt.Errorf("event %s expects a %s room", env.Event, kind)
		}
		return room, nil
	}

	id, err := idFromData(env.Data)
	if err != nil {
		return Room{}, err
	}
	if id == "" {
		return Room{}, fmt.Errorf("event %s requires a room id", env.Event)
	}
	return ParseRoom(string(kind) + "-" + id)
}

func (c *connection) joinUser(ctx context.Context, env Envelope) error {
	if env.Room == "" && len(env.Data) == 0 {
		env.Room = UserRoom(c.identity.UserID)
	}
	return c.join(ctx, RoomUser, env)
}

func (c *connection) join(ctx context.Context, kind RoomKind, env Envelope) error {
	room, err := roomFor(kind, env)
	if err != nil {
		return err
	}
	if err := c.hub.authorise(ctx, c.identity, room); err != nil {
		return err
	}

	name := room.String()
	c.hub.addMember(c, name)
	c.emit(Envelope{Event: EventJoined, Room: name})
	return nil
}

func (c *connection) leave(kind RoomKind, env Envelope) error {
	room, err := roomFor(kind, env)
	if err != nil {
		return err
	}
	return c.leaveRoom(room.String())
}

func (c *connection) leaveRoom(name string) error {
	if name == "" {
		return errors.New("leave-room requires a room")
	}
	c.hub.removeMember(c, name)
	c.emit(Envelope{Event: EventLeft, Room: name})
	return nil
}

// relay forwards a frame to the other members of a joined room without interpreting it.
func (c *connection) relay(ctx context.Context, kind RoomKind, env Envelope) error {
	room, err := ParseRoom(env.Room)
	if err != nil {
		return err
	}
	if room.Kind != kind {
		return fmt.Errorf("event %s expects a %s room", env.Event, kind)
	}

	name := room.String()
	if !c.hub.isMember(c, name) {
		return ErrNotMember
	}

	frame, err := marshalFrame(Envelope{Event: env.Event, Room: name, From: c.id, Data: env.Data})
	if err != nil {
		return err
	}

	c.hub.deliverRoom(name, env.Event, originLocal, frame, c)
	if err := c.hub.publish(ctx, fanoutEvent{Room: name, Event: env.Event, Frame: frame}); err != nil {
		c.hub.logger.Warn().Err(err).Str("event", env.Event).Msg("failed to publish realtime relay")
	}
	return nil
}

// reply sends a canvas snapshot to exactly one connection, never to the room.
func (c *connection) reply(ctx context.Context, env Envelope) error {
	if env.To == "" {
		return errors.New("whiteboard-state requires a target connection")
	}
	if env.Room != "" {
		room, err := ParseRoom(env.Room)
		if err != nil {
			return err
		}
		if room.Kind != RoomWhiteboard {
			return fmt.Errorf("event %s expects a %s room", env.Event, RoomWhiteboard)
		}
		if !c.hub.isMember(c, room.String()) {
			return ErrNotMember
		}
	}

	frame, err := marshalFrame(Envelope{Event: env.Event, Room: env.Room, From: c.id, To: env.To, Data: env.Data})
	if err != nil {
		return err
	}

	if c.hub.deliverTo(env.To, env.Event, originLocal, frame) {
		return nil
	}
	if err := c.hub.publish(ctx, fanoutEvent{To: env.To, Event: env.Event, Frame: frame}); err != nil {
		c.hub.logger.Warn().Err(err).Str("event", env.Event).Msg("failed to publish realtime reply")
	}
	return nil
}

// share announces a whiteboard session to a class or group the sender may address.
func (c *connection) share(ctx context.Context, env Envelope) error {
	room, err := ParseRoom(env.Room)
	if err != nil {
		return err
	}
	if room.Kind != RoomClass && room.Kind != RoomGroup {
		return fmt.Errorf("event %s expects a class or group room", env.Event)
	}
	if err := c.hub.authorise(ctx, c.identity, room); err != nil {
		return err
	}

	name := room.String()
	frame, err := marshalFrame(Envelope{Event: env.Event, Room: name, From: c.id, Data: env.Data})
	if err != nil {
		return err
	}

	c.hub.deliverRoom(name, env.Event, originLocal, frame, c)
	if err := c.hub.publish(ctx, fanoutEvent{Room: name, Event: env.Event, Frame: frame}); err != nil {
		c.hub.logger.Warn().Err(err).Str("event", env.Event).Msg("failed to publish whiteboard share")
	}
	return nil
}
