package realtime

import (
	"fmt"
	"strconv"
	"strings"
)

// RoomKind is the prefix of a room name.
type RoomKind string

const (
	RoomUser       RoomKind = "user"
	RoomViva       RoomKind = "viva"
	RoomClass      RoomKind = "class"
	RoomGroup      RoomKind = "group"
	RoomWhiteboard RoomKind = "whiteboard"
)

// UserRoom is the personal inbox of a user.
func UserRoom(userID uint) string { return fmt.Sprintf("%s-%d", RoomUser, userID) }

// VivaRoom carries the signaling relay of one viva session.
func VivaRoom(sessionID uint) string { return fmt.Sprintf("%s-%d", RoomViva, sessionID) }

// ClassRoom fans out announcements to a class.
func ClassRoom(classID uint) string { return fmt.Sprintf("%s-%d", RoomClass, classID) }

// GroupRoom fans out announcements to a group.
func GroupRoom(groupID uint) string { return fmt.Sprintf("%s-%d", RoomGroup, groupID) }

// Room is a parsed room name.
type Room struct {
	Kind RoomKind
	Key  string
}

func (r Room) String() string { return string(r.Kind) + "-" + r.Key }

// NumericID returns the key as an identifier for user, viva, class and group rooms.
func (r Room) NumericID() (uint, bool) {
	id, err := strconv.ParseUint(r.Key, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// ParseRoom splits a room name into its kind and key.
func ParseRoom(name string) (Room, error) {
	name = strings.TrimSpace(name)
	idx := strings.Index(name, "-")
	if idx <= 0 || idx == len(name)-1 {
		return Room{}, fmt.Errorf("malformed room %q", name)
	}

	room := Room{Kind: RoomKind(name[:idx]), Key: name[idx+1:]}
	switch room.Kind {
	case RoomUser, RoomViva, RoomClass, RoomGroup:
		if _, ok := room.NumericID(); !ok {
			return Room{}, fmt.Errorf("room %q requires a numeric id", name)
		}
	case RoomWhiteboard:
	default:
		return Room{}, fmt.Errorf("unknown room kind %q", room.Kind)
	}
	return room, nil
}
