package realtime

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Inbound event names.
const (
	EventJoinUser        = "join-user"
	EventJoinViva        = "join-viva"
	EventLeaveViva       = "leave-viva"
	EventJoinClass       = "join-class"
	EventJoinGroup       = "join-group"
	EventJoinWhiteboard  = "join-whiteboard"
	EventLeaveWhiteboard = "leave-whiteboard"
	EventLeaveRoom       = "leave-room"

	EventVivaOffer        = "viva-offer"
	EventVivaAnswer       = "viva-answer"
	EventVivaICECandidate = "viva-ice-candidate"
	EventVivaQuestion     = "viva-question"
	EventVivaResponse     = "viva-response"

	EventWhiteboardDraw         = "whiteboard-draw"
	EventWhiteboardClear        = "whiteboard-clear"
	EventWhiteboardRequestState = "whiteboard-request-state"
	EventWhiteboardState        = "whiteboard-state"
	EventWhiteboardShare        = "whiteboard-share"
)

// Outbound event names emitted by the hub itself or by domain services.
const (
	EventConnected           = "connected"
	EventJoined              = "joined"
	EventLeft                = "left"
	EventError               = "error"
	EventNotification        = "notification"
	EventGradePublished      = "grade-published"
	EventGradeUpdated        = "grade-updated"
	EventVivaStarted         = "viva-started"
	EventVivaScheduled       = "viva-scheduled"
	EventVivaCompleted       = "viva-completed"
	EventSubmissionStatus    = "submission-status"
	EventAssignmentPublished = "assignment-published"
)

// Envelope is the JSON frame exchanged over the socket.
type Envelope struct {
	Event string          `json:"event"`
	Room  string          `json:"room,omitempty"`
	To    string          `json:"to,omitempty"`
	From  string          `json:"from,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

const envelopeSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["event"],
  "properties": {
    "event": {"type": "string", "pattern": "^[a-z]+(-[a-z]+)*$", "maxLength": 64},
    "room":  {"type": "string", "maxLength": 128},
    "to":    {"type": "string", "maxLength": 64},
    "data":  {}
  },
  "additionalProperties": false
}`

// decodeEnvelope validates raw against the envelope schema and decodes it.
func decodeEnvelope(schema *jsonschema.Schema, raw []byte) (Envelope, error) {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Envelope{}, fmt.Errorf("invalid json: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return Envelope{}, fmt.Errorf("invalid envelope: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("invalid envelope: %w", err)
	}
	return env, nil
}

// idFromData reads a join payload, which is a bare string, a number or {"id": ...}.
func idFromData(data json.RawMessage) (string, error) {
	if len(data) == 0 || string(data) == "null" {
		return "", nil
	}

	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		return strings.TrimSpace(asString), nil
	}

	var asNumber json.Number
	if err := json.Unmarshal(data, &asNumber); err == nil {
		if _, err := strconv.ParseUint(asNumber.String(), 10, 64); err != nil {
			return "", fmt.Errorf("id must be a positive integer")
		}
		return asNumber.String(), nil
	}

	var asObject struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &asObject); err == nil && len(asObject.ID) > 0 {
		return idFromData(asObject.ID)
	}

	return "", fmt.Errorf("unsupported id payload")
}

func marshalFrame(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func marshalData(data interface{}) (json.RawMessage, error) {
	if data == nil {
		return nil, nil
	}
	if raw, ok := data.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(data)
}
