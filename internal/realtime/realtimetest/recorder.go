// Package realtimetest provides a Broadcaster that records emits instead of delivering them.
package realtimetest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/noah-isme/labrecord-api/internal/realtime"
)

// Emit is one recorded call.
type Emit struct {
	Room  string
	Event string
	Data  json.RawMessage
}

// Recorder implements realtime.Broadcaster. Set Err to make every emit fail.
type Recorder struct {
	mu    sync.Mutex
	emits []Emit
	Err   error
}

var _ realtime.Broadcaster = (*Recorder)(nil)

// EmitToRoom records the emit.
func (r *Recorder) EmitToRoom(_ context.Context, room, event string, data interface{}) error {
	raw, _ := json.Marshal(data)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.emits = append(r.emits, Emit{Room: room, Event: event, Data: raw})
	return r.Err
}

// EmitToUser records the emit against the user's personal room.
func (r *Recorder) EmitToUser(ctx context.Context, userID uint, event string, data interface{}) error {
	return r.EmitToRoom(ctx, realtime.UserRoom(userID), event, data)
}

// Emits returns a copy of everything recorded so far.
func (r *Recorder) Emits() []Emit {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Emit, len(r.emits))
	copy(out, r.emits)
	return out
}

// Find returns the emits of event into room.
func (r *Recorder) Find(room, event string) []Emit {
	var out []Emit
	for _, emit := range r.Emits() {
		if emit.Room == room && emit.Event == event {
			out = append(out, emit)
		}
	}
	return out
}
