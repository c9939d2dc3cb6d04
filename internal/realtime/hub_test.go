package realtime_test

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/noah-isme/labrecord-api/internal/models"
	"github.com/noah-isme/labrecord-api/internal/realtime"
	"github.com/noah-isme/labrecord-api/internal/targeting"
)

type fakeConn struct {
	in     chan []byte
	out    chan realtime.Envelope
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		out:    make(chan realtime.Envelope, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case raw := <-f.in:
		return websocket.TextMessage, raw, nil
	case <-f.closed:
		return 0, nil, io.EOF
	}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	if messageType != websocket.TextMessage {
		return nil
	}
	var env realtime.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	select {
	case f.out <- env:
		return nil
	case <-f.closed:
		return io.ErrClosedPipe
	}
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

type testClient struct {
	t    *testing.T
	conn *fakeConn
	id   string
}

func connect(t *testing.T, hub *realtime.Hub, identity realtime.Identity) *testClient {
	t.Helper()
	conn := newFakeConn()
	go hub.Serve(context.Background(), conn, identity)
	t.Cleanup(func() { _ = conn.Close() })

	client := &testClient{t: t, conn: conn}
	hello := client.next()
	require.Equal(t, realtime.EventConnected, hello.Event)

	var data struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(hello.Data, &data))
	require.NotEmpty(t, data.ID)
	client.id = data.ID
	return client
}

func (c *testClient) send(frame map[string]interface{}) {
	c.t.Helper()
	raw, err := json.Marshal(frame)
	require.NoError(c.t, err)
	c.conn.in <- raw
}

func (c *testClient) sendRaw(raw string) {
	c.conn.in <- []byte(raw)
}

func (c *testClient) next() realtime.Envelope {
	c.t.Helper()
	select {
	case env := <-c.conn.out:
		return env
	case <-time.After(2 * time.Second):
		c.t.Fatal("timed out waiting for frame")
		return realtime.Envelope{}
	}
}

func (c *testClient) join(event string, id interface{}) {
	c.t.Helper()
	c.send(map[string]interface{}{"event": event, "data": id})
	ack := c.next()
	require.Equal(c.t, realtime.EventJoined, ack.Event, "join rejected: %s", string(ack.Data))
}

func (c *testClient) expectNothing() {
	c.t.Helper()
	select {
	case env := <-c.conn.out:
		c.t.Fatalf("unexpected frame %s in %s", env.Event, env.Room)
	case <-time.After(100 * time.Millisecond):
	}
}

type fakeDirectory struct {
	enrollments  map[uint][]targeting.Enrollment
	groups       map[uint][]uint
	classSchools map[uint]uint
	groupSchools map[uint]uint
}

func (d fakeDirectory) Enrollments(_ context.Context, studentID uint) ([]targeting.Enrollment, error) {
	return d.enrollments[studentID], nil
}

func (d fakeDirectory) GroupIDs(_ context.Context, studentID uint) ([]uint, error) {
	return d.groups[studentID], nil
}

func (d fakeDirectory) ClassSchool(_ context.Context, classID uint) (uint, error) {
	school, ok := d.classSchools[classID]
	if !ok {
		return 0, gorm.ErrRecordNotFound
	}
	return school, nil
}

func (d fakeDirectory) GroupSchool(_ context.Context, groupID uint) (uint, error) {
	school, ok := d.groupSchools[groupID]
	if !ok {
		return 0, gorm.ErrRecordNotFound
	}
	return school, nil
}

type fakeVivas map[uint]models.VivaSession

func (f fakeVivas) GetByID(_ context.Context, id uint) (models.VivaSession, error) {
	session, ok := f[id]
	if !ok {
		return models.VivaSession{}, gorm.ErrRecordNotFound
	}
	return session, nil
}

var (
	student = realtime.Identity{UserID: 7, Role: "student", SchoolID: 1}
	teacher = realtime.Identity{UserID: 1, Role: "teacher", SchoolID: 1}
)

func newHub(opts realtime.Options) *realtime.Hub {
	opts.Logger = zerolog.Nop()
	return realtime.NewHub(opts)
}

func TestJoinUserRoomOnlyForSelf(t *testing.T) {
	hub := newHub(realtime.Options{})
	client := connect(t, hub, student)

	client.send(map[string]interface{}{"event": realtime.EventJoinUser, "data": 5})
	rejected := client.next()
	require.Equal(t, realtime.EventError, rejected.Event)

	client.send(map[string]interface{}{"event": realtime.EventJoinUser})
	ack := client.next()
	require.Equal(t, realtime.EventJoined, ack.Event)
	require.Equal(t, "user-7", ack.Room)
	require.Equal(t, 1, hub.MemberCount("user-7"))
}

func TestVivaRelayExcludesSender(t *testing.T) {
	hub := newHub(realtime.Options{Vivas: fakeVivas{
		3: {ID: 3, SchoolID: 1, StudentID: 7, ExaminerID: 1},
	}})
	examiner := connect(t, hub, teacher)
	candidate := connect(t, hub, student)

	examiner.join(realtime.EventJoinViva, 3)
	candidate.join(realtime.EventJoinViva, "3")

	offer := map[string]interface{}{"sdp": "v=0", "type": "offer"}
	examiner.send(map[string]interface{}{"event": realtime.EventVivaOffer, "room": "viva-3", "data": offer})

	got := candidate.next()
	require.Equal(t, realtime.EventVivaOffer, got.Event)
	require.Equal(t, "viva-3", got.Room)
	require.Equal(t, examiner.id, got.From)
	require.JSONEq(t, `{"sdp":"v=0","type":"offer"}`, string(got.Data))

	examiner.expectNothing()
}

func TestRelayRequiresMembership(t *testing.T) {
	hub := newHub(realtime.Options{})
	outsider := connect(t, hub, student)

	outsider.send(map[string]interface{}{"event": realtime.EventVivaICECandidate, "room": "viva-3", "data": map[string]string{"candidate": "x"}})
	got := outsider.next()
	require.Equal(t, realtime.EventError, got.Event)
}

func TestVivaJoinLimitedToParticipants(t *testing.T) {
	hub := newHub(realtime.Options{Vivas: fakeVivas{
		3: {ID: 3, SchoolID: 1, StudentID: 7, ExaminerID: 1},
	}})

	owner := connect(t, hub, student)
	owner.join(realtime.EventJoinViva, 3)

	other := connect(t, hub, realtime.Identity{UserID: 8, Role: "student", SchoolID: 1})
	other.send(map[string]interface{}{"event": realtime.EventJoinViva, "data": 3})
	require.Equal(t, realtime.EventError, other.next().Event)

	foreign := connect(t, hub, realtime.Identity{UserID: 2, Role: "teacher", SchoolID: 2})
	foreign.send(map[string]interface{}{"event": realtime.EventJoinViva, "data": 3})
	require.Equal(t, realtime.EventError, foreign.next().Event)

	schoolless := connect(t, hub, realtime.Identity{UserID: 1, Role: "teacher"})
	schoolless.send(map[string]interface{}{"event": realtime.EventJoinViva, "data": 3})
	require.Equal(t, realtime.EventError, schoolless.next().Event)

	missing := connect(t, hub, teacher)
	missing.send(map[string]interface{}{"event": realtime.EventJoinViva, "data": 4})
	require.Equal(t, realtime.EventError, missing.next().Event)

	examiner := connect(t, hub, teacher)
	examiner.join(realtime.EventJoinViva, 3)
}

func TestWhiteboardStateIsTargetedReply(t *testing.T) {
	hub := newHub(realtime.Options{})
	host := connect(t, hub, teacher)
	late := connect(t, hub, student)
	peer := connect(t, hub, realtime.Identity{UserID: 8, Role: "student"})

	host.join(realtime.EventJoinWhiteboard, "board-1")
	peer.join(realtime.EventJoinWhiteboard, "board-1")
	late.join(realtime.EventJoinWhiteboard, "board-1")

	late.send(map[string]interface{}{"event": realtime.EventWhiteboardRequestState, "room": "whiteboard-board-1"})

	request := host.next()
	require.Equal(t, realtime.EventWhiteboardRequestState, request.Event)
	require.Equal(t, late.id, request.From)
	require.Equal(t, late.id, peer.next().From)

	host.send(map[string]interface{}{
		"event": realtime.EventWhiteboardState,
		"room":  "whiteboard-board-1",
		"to":    request.From,
		"data":  map[string]interface{}{"strokes": []int{1, 2, 3}},
	})

	snapshot := late.next()
	require.Equal(t, realtime.EventWhiteboardState, snapshot.Event)
	require.Equal(t, host.id, snapshot.From)
	require.JSONEq(t, `{"strokes":[1,2,3]}`, string(snapshot.Data))

	peer.expectNothing()
	host.expectNothing()
}

func TestWhiteboardStateReachesRequesterOutsideRoom(t *testing.T) {
	hub := newHub(realtime.Options{})
	host := connect(t, hub, teacher)
	newcomer := connect(t, hub, student)

	host.join(realtime.EventJoinWhiteboard, "board-2")
	host.send(map[string]interface{}{
		"event": realtime.EventWhiteboardState,
		"to":    newcomer.id,
		"data":  map[string]interface{}{"strokes": []int{}},
	})

	got := newcomer.next()
	require.Equal(t, realtime.EventWhiteboardState, got.Event)
	require.Equal(t, newcomer.id, got.To)
}

func TestClassAndGroupJoinsRequireScope(t *testing.T) {
	hub := newHub(realtime.Options{Directory: fakeDirectory{
		enrollments: map[uint][]targeting.Enrollment{
			7: {{ClassID: 10, Active: true}, {ClassID: 11, Active: false}},
		},
		groups: map[uint][]uint{7: {20}},
	}})

	client := connect(t, hub, student)
	client.join(realtime.EventJoinClass, 10)
	client.join(realtime.EventJoinGroup, 20)

	client.send(map[string]interface{}{"event": realtime.EventJoinClass, "data": 11})
	require.Equal(t, realtime.EventError, client.next().Event)

	client.send(map[string]interface{}{"event": realtime.EventJoinGroup, "data": 21})
	require.Equal(t, realtime.EventError, client.next().Event)

}

func TestStaffJoinsAreLimitedToTheirSchool(t *testing.T) {
	hub := newHub(realtime.Options{Directory: fakeDirectory{
		enrollments:  map[uint][]targeting.Enrollment{7: {{ClassID: 10, Active: true}}},
		classSchools: map[uint]uint{10: 1, 99: 2},
		groupSchools: map[uint]uint{20: 1},
	}})

	pupil := connect(t, hub, student)
	pupil.join(realtime.EventJoinClass, 10)

	staff := connect(t, hub, teacher)
	staff.join(realtime.EventJoinClass, 10)
	staff.join(realtime.EventJoinGroup, 20)
	for _, id := range []int{99, 55} {
		staff.send(map[string]interface{}{"event": realtime.EventJoinClass, "data": id})
		require.Equal(t, realtime.EventError, staff.next().Event)
	}

	foreign := connect(t, hub, realtime.Identity{UserID: 2, Role: "teacher", SchoolID: 2})
	foreign.send(map[string]interface{}{"event": realtime.EventJoinClass, "data": 10})
	require.Equal(t, realtime.EventError, foreign.next().Event)
	foreign.send(map[string]interface{}{"event": realtime.EventWhiteboardShare, "room": "class-10", "data": map[string]string{"session": "x"}})
	require.Equal(t, realtime.EventError, foreign.next().Event)

	schoolless := connect(t, hub, realtime.Identity{UserID: 3, Role: "admin"})
	schoolless.send(map[string]interface{}{"event": realtime.EventJoinGroup, "data": 20})
	require.Equal(t, realtime.EventError, schoolless.next().Event)

	require.NoError(t, hub.EmitToRoom(context.Background(), "class-10", realtime.EventAssignmentPublished, map[string]string{"title": "secret"}))
	require.Equal(t, realtime.EventAssignmentPublished, pupil.next().Event)
	require.Equal(t, realtime.EventAssignmentPublished, staff.next().Event)
	foreign.expectNothing()
	schoolless.expectNothing()
	pupil.expectNothing()
}

func TestWhiteboardShareAnnouncesToClass(t *testing.T) {
	hub := newHub(realtime.Options{Directory: fakeDirectory{
		enrollments:  map[uint][]targeting.Enrollment{7: {{ClassID: 10, Active: true}}},
		classSchools: map[uint]uint{10: 1},
	}})

	pupil := connect(t, hub, student)
	pupil.join(realtime.EventJoinClass, 10)

	host := connect(t, hub, teacher)
	host.send(map[string]interface{}{
		"event": realtime.EventWhiteboardShare,
		"room":  "class-10",
		"data":  map[string]string{"session": "board-9"},
	})

	got := pupil.next()
	require.Equal(t, realtime.EventWhiteboardShare, got.Event)
	require.Equal(t, "class-10", got.Room)
	require.Equal(t, host.id, got.From)

	pupil.send(map[string]interface{}{"event": realtime.EventWhiteboardShare, "room": "viva-1"})
	require.Equal(t, realtime.EventError, pupil.next().Event)
}

func TestEmitToUserReachesInbox(t *testing.T) {
	hub := newHub(realtime.Options{})
	client := connect(t, hub, student)
	client.join(realtime.EventJoinUser, 7)

	require.NoError(t, hub.EmitToUser(context.Background(), 7, realtime.EventNotification, map[string]string{"message": "graded"}))

	got := client.next()
	require.Equal(t, realtime.EventNotification, got.Event)
	require.Equal(t, "user-7", got.Room)
	require.JSONEq(t, `{"message":"graded"}`, string(got.Data))

	require.Error(t, hub.EmitToRoom(context.Background(), "lobby", realtime.EventNotification, nil))
}

func TestLeaveAndDisconnectDropMembership(t *testing.T) {
	hub := newHub(realtime.Options{Vivas: fakeVivas{
		4: {ID: 4, SchoolID: 1, StudentID: 7, ExaminerID: 1},
	}})
	client := connect(t, hub, student)

	client.join(realtime.EventJoinViva, 4)
	client.join(realtime.EventJoinWhiteboard, "w")
	require.Equal(t, 1, hub.MemberCount("viva-4"))

	client.send(map[string]interface{}{"event": realtime.EventLeaveViva, "data": 4})
	require.Equal(t, realtime.EventLeft, client.next().Event)
	require.Equal(t, 0, hub.MemberCount("viva-4"))

	require.NoError(t, client.conn.Close())
	require.Eventually(t, func() bool {
		return hub.MemberCount("whiteboard-w") == 0
	}, time.Second, 10*time.Millisecond)
}

func TestMalformedFramesAreRejected(t *testing.T) {
	hub := newHub(realtime.Options{})
	client := connect(t, hub, student)

	client.sendRaw(`not json`)
	require.Equal(t, realtime.EventError, client.next().Event)

	client.sendRaw(`{"event":"viva-offer","room":"viva-1","from":"spoofed"}`)
	require.Equal(t, realtime.EventError, client.next().Event)

	client.sendRaw(`{"room":"viva-1"}`)
	require.Equal(t, realtime.EventError, client.next().Event)

	client.send(map[string]interface{}{"event": "teleport"})
	require.Equal(t, realtime.EventError, client.next().Event)
}

func TestRedisFanOutAcrossNodes(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	newClient := func() *redis.Client {
		client := redis.NewClient(&redis.Options{Addr: server.Addr(), Protocol: 2})
		t.Cleanup(func() { _ = client.Close() })
		return client
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nodeA := newHub(realtime.Options{Redis: newClient(), ChannelBase: "lab-test", NodeID: "node-a"})
	nodeB := newHub(realtime.Options{Redis: newClient(), ChannelBase: "lab-test", NodeID: "node-b"})
	require.NoError(t, nodeA.Start(ctx))
	require.NoError(t, nodeB.Start(ctx))

	local := connect(t, nodeA, student)
	local.join(realtime.EventJoinUser, 7)
	remote := connect(t, nodeB, student)
	remote.join(realtime.EventJoinUser, 7)

	require.NoError(t, nodeA.EmitToUser(ctx, 7, realtime.EventGradePublished, map[string]float64{"final": 58.1}))

	require.Equal(t, realtime.EventGradePublished, local.next().Event)
	got := remote.next()
	require.Equal(t, realtime.EventGradePublished, got.Event)
	require.JSONEq(t, `{"final":58.1}`, string(got.Data))

	// A node ignores its own fan-out traffic.
	local.expectNothing()

	host := connect(t, nodeB, teacher)
	host.join(realtime.EventJoinWhiteboard, "x")
	host.send(map[string]interface{}{"event": realtime.EventWhiteboardState, "to": local.id, "data": map[string]int{"v": 1}})
	reply := local.next()
	require.Equal(t, realtime.EventWhiteboardState, reply.Event)
	require.Equal(t, host.id, reply.From)
}

func TestParseRoom(t *testing.T) {
	room, err := realtime.ParseRoom("group-12")
	require.NoError(t, err)
	require.Equal(t, realtime.RoomGroup, room.Kind)
	id, ok := room.NumericID()
	require.True(t, ok)
	require.Equal(t, uint(12), id)

	room, err = realtime.ParseRoom("whiteboard-abc-def")
	require.NoError(t, err)
	require.Equal(t, "abc-def", room.Key)

	for _, bad := range []string{"", "user", "user-", "user-abc", "lobby-1", "class-0"} {
		_, err := realtime.ParseRoom(bad)
		require.Error(t, err, bad)
	}
}
