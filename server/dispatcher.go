package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/samber/lo"

	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/protocol"
)

// frameHeadroom covers the JSON envelope around a base64 file payload
// when sizing the line scanner.
const frameHeadroom = 64 * 1024

// dispatcher is the per-connection command loop. It is the only writer
// of its session's state; everything it tells other connections goes
// through the broadcast engine.
type dispatcher struct {
	log     *slog.Logger
	server  *Server
	conn    net.Conn
	session *domain.Session
	outbox  *Outbox
	cleanup sync.Once
}

func (d *dispatcher) run(ctx context.Context) {
	defer d.teardown()

	// Tear the socket down when the server stops, so the read loop
	// cannot outlive the context.
	stop := context.AfterFunc(ctx, func() {
		_ = d.conn.Close()
	})
	defer stop()

	maxFrame := int(d.server.opts.MaxFileBytes)*4/3 + frameHeadroom
	reader := bufio.NewReaderSize(d.conn, 64*1024)

	for {
		line, err := readFrame(reader, maxFrame)
		if stderrors.Is(err, errFrameTooLong) {
			// The overlong line was drained, the connection survives.
			d.reply(protocol.Err("Frame too large."))
			continue
		}
		if err != nil {
			d.log.Debug(fmt.Sprintf("Connection read ended: %v", err), "conn_id", d.session.ConnID)
			return
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		d.dispatch(line)
	}
}

var errFrameTooLong = stderrors.New("frame too long")

// readFrame reads one newline-terminated frame of at most maxFrame
// bytes. An overlong line is consumed to its end and reported as
// errFrameTooLong, so one oversized frame never kills the connection.
func readFrame(reader *bufio.Reader, maxFrame int) ([]byte, error) {
	var frame []byte
	for {
		chunk, err := reader.ReadSlice('\n')
		frame = append(frame, chunk...)
		if err == nil {
			return frame, nil
		}
		if !stderrors.Is(err, bufio.ErrBufferFull) {
			return nil, err
		}
		if len(frame) > maxFrame {
			return nil, drainLine(reader)
		}
	}
}

// drainLine discards input up to the next newline and reports the
// dropped frame.
func drainLine(reader *bufio.Reader) error {
	for {
		_, err := reader.ReadSlice('\n')
		if err == nil {
			return errFrameTooLong
		}
		if !stderrors.Is(err, bufio.ErrBufferFull) {
			return err
		}
	}
}

func (d *dispatcher) dispatch(line []byte) {
	cmd, err := protocol.Decode(line)
	if err != nil {
		switch {
		case stderrors.Is(err, errors.ErrUnknownCommand):
			d.reply(protocol.Err("Unknown command."))
		case stderrors.Is(err, errors.ErrInvalidFrame):
			d.reply(protocol.Err("Invalid frame."))
		default:
			d.reply(protocol.Err("Bad JSON."))
		}
		return
	}

	switch c := cmd.(type) {
	case protocol.SetName:
		d.handleSetName(c)
	case protocol.JoinRoom:
		d.handleJoinRoom(c)
	case protocol.LeaveRoom:
		d.handleLeaveRoom()
	case protocol.SendMessage:
		d.handleSendMessage(c)
	case protocol.SendDirect:
		d.handleSendDirect(c)
	case protocol.SendFile:
		d.handleSendFile(c)
	case protocol.ListUsers:
		d.handleListUsers()
	case protocol.ListRooms:
		d.reply(protocol.NewRoomList(d.server.rooms.List()))
	case protocol.HistoryReq:
		d.handleHistoryReq(c)
	}
}

func (d *dispatcher) handleSetName(c protocol.SetName) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		d.reply(protocol.Err("Empty name not allowed."))
		return
	}
	if d.session.State() != domain.StateUnnamed {
		d.reply(protocol.Err("Name already set."))
		return
	}

	// Registration is the atomic check-and-insert; of two concurrent
	// claims on one name exactly one lands here successfully.
	if err := d.server.registry.Register(name, d.session); err != nil {
		d.reply(protocol.Err("Name already taken."))
		return
	}
	d.session.Adopt(name)

	d.reply(protocol.OK(fmt.Sprintf("Welcome %s!", name)))
	d.log.Info(fmt.Sprintf("[+] %s connected", name), "conn_id", d.session.ConnID)
}

func (d *dispatcher) handleJoinRoom(c protocol.JoinRoom) {
	name := d.session.Name()
	if name == "" {
		d.reply(protocol.Err("Set a name first."))
		return
	}

	room := domain.NormalizeRoom(c.Room)
	current := d.session.Room()

	// Idempotent re-join: no membership change, no notices, but the
	// client still gets history and the member list again.
	if current == room {
		d.reply(protocol.OK(fmt.Sprintf("Already in %s.", room)))
		d.sendHistory(room)
		d.reply(protocol.NewUserList(room, d.server.rooms.MembersOf(room)))
		return
	}

	// Membership moves first: once the session points at the new room,
	// the broadcast filter keeps old-room traffic away from the mover.
	if current != "" {
		d.server.rooms.Leave(name, current)
	}
	d.server.rooms.Join(name, room)
	if err := d.server.registry.SetRoom(name, room); err != nil {
		d.log.Warn("Room switch on unregistered session", "name", name, "error", err)
	}

	d.reply(protocol.OK(fmt.Sprintf("Joined room %s.", room)))
	if current != "" {
		d.notifyRoom(current, fmt.Sprintf("%s has left %s.", name, current), nil)
		d.broadcastUserList(current)
	}
	d.notifyRoom(room, fmt.Sprintf("%s has joined %s.", name, room), d.session)
	d.sendHistory(room)
	d.broadcastUserList(room)
	d.broadcastRoomList()
}

func (d *dispatcher) handleLeaveRoom() {
	name := d.session.Name()
	if name == "" {
		d.reply(protocol.Err("Set a name first."))
		return
	}
	current := d.session.Room()
	if current == "" {
		d.reply(protocol.Err("Not in any room."))
		return
	}

	d.server.rooms.Leave(name, current)
	d.server.rooms.Join(name, domain.DefaultRoom)
	if err := d.server.registry.SetRoom(name, domain.DefaultRoom); err != nil {
		d.log.Warn("Room switch on unregistered session", "name", name, "error", err)
	}

	d.reply(protocol.OK(fmt.Sprintf("Left room %s, joined %s.", current, domain.DefaultRoom)))
	d.notifyRoom(current, fmt.Sprintf("%s has left %s.", name, current), nil)
	d.notifyRoom(domain.DefaultRoom, fmt.Sprintf("%s has joined %s.", name, domain.DefaultRoom), nil)
	d.broadcastUserList(current)
	d.broadcastUserList(domain.DefaultRoom)
	d.broadcastRoomList()
}

func (d *dispatcher) handleSendMessage(c protocol.SendMessage) {
	name := d.session.Name()
	if name == "" {
		d.reply(protocol.Err("Set a name first."))
		return
	}
	current := d.session.Room()
	if current == "" {
		d.reply(protocol.Err("Join a room first."))
		return
	}

	room := c.Room
	if room == "" {
		room = current
	}
	if room != current {
		d.reply(protocol.Err(fmt.Sprintf("You are not in room %s.", room)))
		return
	}

	body := c.Message
	if d.server.filter != nil {
		body = d.server.filter.Apply(body)
	}

	// Persist before fan-out: a client that saw the broadcast is
	// guaranteed to find the message in history.
	if _, err := d.server.history.Append(room, name, body, time.Now().UTC()); err != nil {
		d.log.Error("Failed to persist message", "room", room, "sender", name, "error", err)
		d.reply(protocol.Err("Failed to store message."))
		return
	}

	frame := protocol.ChatMessage{
		Type:    protocol.TypeMessage,
		From:    name,
		Room:    room,
		Message: body,
		Private: false,
	}
	d.broadcastFrame(room, frame, nil)
}

func (d *dispatcher) handleSendDirect(c protocol.SendDirect) {
	name := d.session.Name()
	if name == "" {
		d.reply(protocol.Err("Set a name first."))
		return
	}

	frame := protocol.ChatMessage{
		Type:    protocol.TypeMessage,
		From:    name,
		Message: c.Message,
		Private: true,
	}
	raw, err := protocol.Encode(frame)
	if err != nil {
		d.log.Warn("Encoding direct message failed", "error", err)
		return
	}
	if err := d.server.broadcaster.Direct(c.To, raw); err != nil {
		d.reply(protocol.Err(fmt.Sprintf("User %s not found.", c.To)))
	}
}

func (d *dispatcher) handleSendFile(c protocol.SendFile) {
	name := d.session.Name()
	if name == "" {
		d.reply(protocol.Err("Set a name first."))
		return
	}

	payload, err := base64.StdEncoding.DecodeString(c.Data)
	if err != nil {
		d.reply(protocol.Err("Bad file payload."))
		return
	}
	if int64(len(payload)) > d.server.opts.MaxFileBytes {
		d.reply(protocol.Err("File too large."))
		return
	}
	contentType := mimetype.Detect(payload).String()

	if c.To != "" {
		frame := protocol.FileRelay{
			Type:        protocol.TypeFile,
			From:        name,
			Filename:    c.Filename,
			Data:        c.Data,
			ContentType: contentType,
			Private:     true,
		}
		raw, err := protocol.Encode(frame)
		if err != nil {
			d.log.Warn("Encoding file relay failed", "error", err)
			return
		}
		if err := d.server.broadcaster.Direct(c.To, raw); err != nil {
			d.reply(protocol.Err(fmt.Sprintf("User %s not found.", c.To)))
			return
		}
		d.reply(protocol.OK(fmt.Sprintf("Sent %s to %s.", c.Filename, c.To)))
		return
	}

	current := d.session.Room()
	if current == "" {
		d.reply(protocol.Err("Join a room first."))
		return
	}
	room := current
	if c.Room != "" {
		room = domain.NormalizeRoom(c.Room)
	}
	if room != current {
		d.reply(protocol.Err(fmt.Sprintf("You are not in room %s.", room)))
		return
	}

	frame := protocol.FileRelay{
		Type:        protocol.TypeFile,
		From:        name,
		Room:        room,
		Filename:    c.Filename,
		Data:        c.Data,
		ContentType: contentType,
		Private:     false,
	}
	// The sender is excluded: echoing the payload back would only cost
	// bandwidth, the sending client already has the file.
	d.broadcastFrame(room, frame, d.session)
	d.reply(protocol.OK(fmt.Sprintf("Sent %s to room %s.", c.Filename, room)))
	d.log.Info("Relayed file", "filename", c.Filename, "room", room,
		"content_type", contentType, "bytes", len(payload))
}

func (d *dispatcher) handleListUsers() {
	current := d.session.Room()
	if current == "" {
		d.reply(protocol.EmptyUserList())
		return
	}
	d.reply(protocol.NewUserList(current, d.server.rooms.MembersOf(current)))
}

func (d *dispatcher) handleHistoryReq(c protocol.HistoryReq) {
	room := domain.NormalizeRoom(c.Room)
	messages, err := d.server.history.ReadRecent(room, c.Limit)
	if err != nil {
		d.log.Error("History read failed", "room", room, "error", err)
		d.reply(protocol.Err("Failed to read history."))
		return
	}
	d.reply(protocol.NewHistory(room, toHistoryEntries(messages)))
}

func (d *dispatcher) sendHistory(room string) {
	messages, err := d.server.history.ReadRecent(room, d.server.opts.HistoryReplay)
	if err != nil {
		d.log.Error("History replay failed", "room", room, "error", err)
		messages = nil
	}
	d.reply(protocol.NewHistory(room, toHistoryEntries(messages)))
}

func toHistoryEntries(messages []domain.Message) []protocol.HistoryEntry {
	return lo.Map(messages, func(item domain.Message, _ int) protocol.HistoryEntry {
		return protocol.HistoryEntry{
			ID:        item.ID,
			Timestamp: item.At.Format(time.RFC3339Nano),
			From:      item.Sender,
			Message:   item.Body,
		}
	})
}

// reply sends one frame to this connection only.
func (d *dispatcher) reply(frame any) {
	raw, err := protocol.Encode(frame)
	if err != nil {
		d.log.Warn("Encoding reply failed", "error", err)
		return
	}
	d.outbox.Push(raw)
}

func (d *dispatcher) notifyRoom(room, text string, exclude *domain.Session) {
	d.broadcastFrame(room, protocol.Notice(text), exclude)
}

func (d *dispatcher) broadcastUserList(room string) {
	d.broadcastFrame(room, protocol.NewUserList(room, d.server.rooms.MembersOf(room)), nil)
}

func (d *dispatcher) broadcastRoomList() {
	raw, err := protocol.Encode(protocol.NewRoomList(d.server.rooms.List()))
	if err != nil {
		d.log.Warn("Encoding room list failed", "error", err)
		return
	}
	d.server.broadcaster.ToAll(raw, nil)
}

func (d *dispatcher) broadcastFrame(room string, frame any, exclude *domain.Session) {
	raw, err := protocol.Encode(frame)
	if err != nil {
		d.log.Warn("Encoding broadcast failed", "error", err)
		return
	}
	d.server.broadcaster.ToRoom(room, raw, exclude)
}

// teardown runs the cleanup sequence exactly once, whether the peer
// closed, the read failed, or the server is shutting down.
func (d *dispatcher) teardown() {
	d.cleanup.Do(func() {
		name := d.session.Name()
		room := d.session.Room()
		d.session.Close()

		if name != "" {
			d.server.registry.Unregister(name, d.session)
			if room != "" {
				d.server.rooms.Leave(name, room)
				d.notifyRoom(room, fmt.Sprintf("%s has left %s.", name, room), nil)
				d.broadcastUserList(room)
			}
			d.broadcastRoomList()
			d.log.Info(fmt.Sprintf("[-] %s disconnected", name), "conn_id", d.session.ConnID)
		}

		d.outbox.Close()
		_ = d.conn.Close()
	})
}
