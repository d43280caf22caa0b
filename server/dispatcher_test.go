package server

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"chat-relay/mocks"
	"chat-relay/moderation"
	"chat-relay/repositories"
)

const recvTimeout = 2 * time.Second

func testLogger() *slog.Logger {
	return logs.GetLoggerFromLevel(slog.LevelError)
}

func testOptions() Options {
	return Options{
		OutboxSize:    64,
		HistoryReplay: 50,
		MaxFileBytes:  1024,
		WriteTimeout:  time.Second,
	}
}

func openTestHistory(t *testing.T) repositories.IHistoryRepository {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return repositories.NewHistoryRepository(db, testLogger())
}

type testClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

// dial wires a fake connection straight into the server's per-connection
// handler, bypassing the TCP listener.
func dial(t *testing.T, s *Server) *testClient {
	t.Helper()
	clientEnd, serverEnd := net.Pipe()
	go s.handle(context.Background(), serverEnd)
	t.Cleanup(func() { _ = clientEnd.Close() })
	return &testClient{t: t, conn: clientEnd, reader: bufio.NewReader(clientEnd)}
}

func (c *testClient) send(line string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetWriteDeadline(time.Now().Add(recvTimeout)))
	_, err := c.conn.Write([]byte(line + "\n"))
	require.NoError(c.t, err)
}

func (c *testClient) recv() map[string]any {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(recvTimeout)))
	line, err := c.reader.ReadString('\n')
	require.NoError(c.t, err)

	var frame map[string]any
	require.NoError(c.t, json.Unmarshal([]byte(line), &frame))
	return frame
}

func (c *testClient) expect(frameType string) map[string]any {
	c.t.Helper()
	frame := c.recv()
	require.Equal(c.t, frameType, frame["type"], "unexpected frame: %v", frame)
	return frame
}

func users(frame map[string]any) []string {
	raw, _ := frame["users"].([]any)
	out := make([]string, 0, len(raw))
	for _, u := range raw {
		out = append(out, u.(string))
	}
	return out
}

func rooms(frame map[string]any) []string {
	raw, _ := frame["rooms"].([]any)
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		out = append(out, r.(string))
	}
	return out
}

// joinSequence drains the four frames a successful join sends to the
// joiner: OK, HISTORY, LIST, LISTROOMS.
func (c *testClient) joinSequence() (ok, history, list, roomList map[string]any) {
	c.t.Helper()
	ok = c.expect("OK")
	history = c.expect("HISTORY")
	list = c.expect("LIST")
	roomList = c.expect("LISTROOMS")
	return ok, history, list, roomList
}

func TestDispatcher_Full_Scenario(t *testing.T) {
	req := require.New(t)
	s := NewServer(testLogger(), testOptions(), openTestHistory(t), nil)

	// Given alice connects and adopts her name
	alice := dial(t, s)
	alice.send(`{"type":"SETNAME","name":"alice"}`)
	frame := alice.expect("OK")
	req.Equal("Welcome alice!", frame["message"])

	// When she joins general
	alice.send(`{"type":"JOINROOM","room":"general"}`)
	ok, history, list, roomList := alice.joinSequence()
	req.Equal("Joined room general.", ok["message"])
	req.Empty(history["messages"])
	req.Equal([]string{"alice"}, users(list))
	req.Contains(rooms(roomList), "general")
	req.Contains(rooms(roomList), "Lobby")

	// And bob fails to steal her name, then picks his own
	bob := dial(t, s)
	bob.send(`{"type":"SETNAME","name":"alice"}`)
	frame = bob.expect("ERR")
	req.Equal("Name already taken.", frame["message"])
	bob.send(`{"type":"SETNAME","name":"bob"}`)
	bob.expect("OK")

	// And bob joins general too
	bob.send(`{"type":"JOINROOM","room":"general"}`)
	_, _, list, _ = bob.joinSequence()
	req.Equal([]string{"alice", "bob"}, users(list))

	// Then alice sees his arrival
	frame = alice.expect("NOTICE")
	req.Equal("bob has joined general.", frame["message"])
	frame = alice.expect("LIST")
	req.Equal([]string{"alice", "bob"}, users(frame))
	alice.expect("LISTROOMS")

	// When alice sends a room message
	alice.send(`{"type":"MSG","message":"hi"}`)

	// Then both receive it, sender included
	for _, client := range []*testClient{alice, bob} {
		frame = client.expect("MSG")
		req.Equal("alice", frame["from"])
		req.Equal("general", frame["room"])
		req.Equal("hi", frame["message"])
		req.Equal(false, frame["private"])
	}

	// And the message is in history afterwards
	bob.send(`{"type":"HISTORYREQ","room":"general","limit":10}`)
	frame = bob.expect("HISTORY")
	messages := frame["messages"].([]any)
	req.Len(messages, 1)
	entry := messages[0].(map[string]any)
	req.Equal("alice", entry["from"])
	req.Equal("hi", entry["message"])

	// When bob disconnects
	req.NoError(bob.conn.Close())

	// Then alice is told and general survives because she remains
	frame = alice.expect("NOTICE")
	req.Equal("bob has left general.", frame["message"])
	frame = alice.expect("LIST")
	req.Equal([]string{"alice"}, users(frame))
	frame = alice.expect("LISTROOMS")
	req.Contains(rooms(frame), "general")
}

func TestDispatcher_Commands_Require_Name(t *testing.T) {
	req := require.New(t)
	s := NewServer(testLogger(), testOptions(), openTestHistory(t), nil)
	client := dial(t, s)

	for _, line := range []string{
		`{"type":"JOINROOM","room":"general"}`,
		`{"type":"LEAVEROOM"}`,
		`{"type":"MSG","message":"hi"}`,
		`{"type":"PM","to":"alice","message":"hi"}`,
	} {
		client.send(line)
		frame := client.expect("ERR")
		req.Equal("Set a name first.", frame["message"])
	}
}

func TestDispatcher_Empty_Name_Rejected(t *testing.T) {
	req := require.New(t)
	s := NewServer(testLogger(), testOptions(), openTestHistory(t), nil)
	client := dial(t, s)

	client.send(`{"type":"SETNAME","name":"   "}`)

	frame := client.expect("ERR")
	req.Equal("Empty name not allowed.", frame["message"])
}

func TestDispatcher_Rejoin_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	s := NewServer(testLogger(), testOptions(), openTestHistory(t), nil)
	alice := dial(t, s)
	alice.send(`{"type":"SETNAME","name":"alice"}`)
	alice.expect("OK")
	alice.send(`{"type":"JOINROOM","room":"general"}`)
	alice.joinSequence()

	// When she joins the room she is already in
	alice.send(`{"type":"JOINROOM","room":"general"}`)

	// Then she gets confirmation, history and the member list again,
	// but no departure notice and no room-list refresh
	frame := alice.expect("OK")
	req.Equal("Already in general.", frame["message"])
	alice.expect("HISTORY")
	frame = alice.expect("LIST")
	req.Equal([]string{"alice"}, users(frame))

	alice.send(`{"type":"LISTREQ"}`)
	frame = alice.expect("LIST")
	req.Equal([]string{"alice"}, users(frame))
}

func TestDispatcher_Switch_Rooms_Notifies_Old_Room(t *testing.T) {
	req := require.New(t)
	s := NewServer(testLogger(), testOptions(), openTestHistory(t), nil)
	alice := dial(t, s)
	alice.send(`{"type":"SETNAME","name":"alice"}`)
	alice.expect("OK")
	alice.send(`{"type":"JOINROOM","room":"general"}`)
	alice.joinSequence()
	bob := dial(t, s)
	bob.send(`{"type":"SETNAME","name":"bob"}`)
	bob.expect("OK")
	bob.send(`{"type":"JOINROOM","room":"general"}`)
	bob.joinSequence()
	alice.expect("NOTICE")
	alice.expect("LIST")
	alice.expect("LISTROOMS")

	// When bob moves to another room
	bob.send(`{"type":"JOINROOM","room":"random"}`)
	bob.joinSequence()

	// Then alice sees him leave and the room list now carries random
	frame := alice.expect("NOTICE")
	req.Equal("bob has left general.", frame["message"])
	frame = alice.expect("LIST")
	req.Equal([]string{"alice"}, users(frame))
	frame = alice.expect("LISTROOMS")
	req.Contains(rooms(frame), "random")
}

func TestDispatcher_LeaveRoom_Falls_Back_To_Lobby(t *testing.T) {
	req := require.New(t)
	s := NewServer(testLogger(), testOptions(), openTestHistory(t), nil)
	alice := dial(t, s)
	alice.send(`{"type":"SETNAME","name":"alice"}`)
	alice.expect("OK")
	alice.send(`{"type":"JOINROOM","room":"general"}`)
	alice.joinSequence()

	alice.send(`{"type":"LEAVEROOM"}`)

	frame := alice.expect("OK")
	req.Equal("Left room general, joined Lobby.", frame["message"])
	// She is a lobby member now, so she receives the join notice and
	// both member-list refreshes herself
	frame = alice.expect("NOTICE")
	req.Equal("alice has joined Lobby.", frame["message"])
	frame = alice.expect("LIST")
	req.Equal([]string{"alice"}, users(frame))
	frame = alice.expect("LISTROOMS")
	// general emptied out and was deleted
	req.NotContains(rooms(frame), "general")
	req.Contains(rooms(frame), "Lobby")
}

func TestDispatcher_Message_To_Wrong_Room_Rejected(t *testing.T) {
	req := require.New(t)
	s := NewServer(testLogger(), testOptions(), openTestHistory(t), nil)
	alice := dial(t, s)
	alice.send(`{"type":"SETNAME","name":"alice"}`)
	alice.expect("OK")
	alice.send(`{"type":"JOINROOM","room":"general"}`)
	alice.joinSequence()

	alice.send(`{"type":"MSG","room":"random","message":"hi"}`)

	frame := alice.expect("ERR")
	req.Equal("You are not in room random.", frame["message"])
}

func TestDispatcher_Direct_Message(t *testing.T) {
	req := require.New(t)
	s := NewServer(testLogger(), testOptions(), openTestHistory(t), nil)
	alice := dial(t, s)
	alice.send(`{"type":"SETNAME","name":"alice"}`)
	alice.expect("OK")
	bob := dial(t, s)
	bob.send(`{"type":"SETNAME","name":"bob"}`)
	bob.expect("OK")

	// When alice messages bob directly, rooms play no part
	alice.send(`{"type":"PM","to":"bob","message":"psst"}`)

	frame := bob.expect("MSG")
	req.Equal("alice", frame["from"])
	req.Equal("psst", frame["message"])
	req.Equal(true, frame["private"])
	req.NotContains(frame, "room")

	// And an unknown target is an error to the sender only
	alice.send(`{"type":"PM","to":"ghost","message":"hello?"}`)
	frame = alice.expect("ERR")
	req.Equal("User ghost not found.", frame["message"])
}

func TestDispatcher_File_Relay_To_Room(t *testing.T) {
	req := require.New(t)
	s := NewServer(testLogger(), testOptions(), openTestHistory(t), nil)
	alice := dial(t, s)
	alice.send(`{"type":"SETNAME","name":"alice"}`)
	alice.expect("OK")
	alice.send(`{"type":"JOINROOM","room":"general"}`)
	alice.joinSequence()
	bob := dial(t, s)
	bob.send(`{"type":"SETNAME","name":"bob"}`)
	bob.expect("OK")
	bob.send(`{"type":"JOINROOM","room":"general"}`)
	bob.joinSequence()
	alice.expect("NOTICE")
	alice.expect("LIST")
	alice.expect("LISTROOMS")

	payload := base64.StdEncoding.EncodeToString([]byte("hello file"))
	alice.send(fmt.Sprintf(`{"type":"FILE","filename":"note.txt","data":"%s"}`, payload))

	// Then bob receives the payload, alice only the acknowledgment
	frame := bob.expect("FILE")
	req.Equal("alice", frame["from"])
	req.Equal("note.txt", frame["filename"])
	req.Equal(payload, frame["data"])
	req.Equal(false, frame["private"])
	alice.expect("OK")

	// And nothing was persisted
	alice.send(`{"type":"HISTORYREQ","room":"general","limit":10}`)
	frame = alice.expect("HISTORY")
	req.Empty(frame["messages"])
}

func TestDispatcher_File_Too_Large_Rejected(t *testing.T) {
	req := require.New(t)
	s := NewServer(testLogger(), testOptions(), openTestHistory(t), nil)
	alice := dial(t, s)
	alice.send(`{"type":"SETNAME","name":"alice"}`)
	alice.expect("OK")
	alice.send(`{"type":"JOINROOM","room":"general"}`)
	alice.joinSequence()

	// Given a payload over the configured cap
	payload := base64.StdEncoding.EncodeToString(make([]byte, 2048))
	alice.send(fmt.Sprintf(`{"type":"FILE","filename":"big.bin","data":"%s"}`, payload))

	frame := alice.expect("ERR")
	req.Equal("File too large.", frame["message"])
}

func TestDispatcher_Oversized_Frame_Keeps_Connection(t *testing.T) {
	req := require.New(t)
	s := NewServer(testLogger(), testOptions(), openTestHistory(t), nil)
	client := dial(t, s)

	// Given a line far beyond what MaxFileBytes allows for one frame
	client.send(strings.Repeat("a", 128*1024))

	// Then the frame is refused but the connection survives
	frame := client.expect("ERR")
	req.Equal("Frame too large.", frame["message"])

	client.send(`{"type":"SETNAME","name":"alice"}`)
	frame = client.expect("OK")
	req.Equal("Welcome alice!", frame["message"])
}

func TestDispatcher_Malformed_And_Unknown_Frames(t *testing.T) {
	req := require.New(t)
	s := NewServer(testLogger(), testOptions(), openTestHistory(t), nil)
	client := dial(t, s)

	client.send(`{"type":`)
	frame := client.expect("ERR")
	req.Equal("Bad JSON.", frame["message"])

	client.send(`{"type":"TELEPORT"}`)
	frame = client.expect("ERR")
	req.Equal("Unknown command.", frame["message"])

	// The connection stays usable afterwards
	client.send(`{"type":"LISTROOMSREQ"}`)
	client.expect("LISTROOMS")
}

func TestDispatcher_Persist_Failure_Suppresses_Broadcast(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	history := mocks.NewMockIHistoryRepository(ctrl)
	history.EXPECT().ReadRecent("general", 50).Return(nil, nil).AnyTimes()
	history.EXPECT().Append("general", "alice", "hi", gomock.Any()).
		Return(int64(0), fmt.Errorf("disk full"))

	s := NewServer(testLogger(), testOptions(), history, nil)
	alice := dial(t, s)
	alice.send(`{"type":"SETNAME","name":"alice"}`)
	alice.expect("OK")
	alice.send(`{"type":"JOINROOM","room":"general"}`)
	alice.joinSequence()

	// When the append fails, the sender hears about it and no MSG frame
	// is broadcast (append happens-before broadcast)
	alice.send(`{"type":"MSG","message":"hi"}`)
	frame := alice.expect("ERR")
	req.Equal("Failed to store message.", frame["message"])
}

func TestDispatcher_Moderation_Masks_Room_Messages(t *testing.T) {
	req := require.New(t)
	filter, err := moderation.NewFilter([]string{"badger"}, '*')
	req.NoError(err)
	s := NewServer(testLogger(), testOptions(), openTestHistory(t), filter)
	alice := dial(t, s)
	alice.send(`{"type":"SETNAME","name":"alice"}`)
	alice.expect("OK")
	alice.send(`{"type":"JOINROOM","room":"general"}`)
	alice.joinSequence()

	alice.send(`{"type":"MSG","message":"the badger bites"}`)

	// Then both the broadcast and the persisted copy are masked
	frame := alice.expect("MSG")
	req.Equal("the ****** bites", frame["message"])

	alice.send(`{"type":"HISTORYREQ","room":"general","limit":10}`)
	frame = alice.expect("HISTORY")
	messages := frame["messages"].([]any)
	req.Len(messages, 1)
	req.Equal("the ****** bites", messages[0].(map[string]any)["message"])
}
