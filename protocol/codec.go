package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"chat-relay/errors"
)

// Inbound frame type tags.
const (
	TypeSetName     = "SETNAME"
	TypeJoinRoom    = "JOINROOM"
	TypeLeaveRoom   = "LEAVEROOM"
	TypeSendMessage = "MSG"
	TypeSendDirect  = "PM"
	TypeSendFile    = "FILE"
	TypeListUsers   = "LISTREQ"
	TypeListRooms   = "LISTROOMSREQ"
	TypeHistoryReq  = "HISTORYREQ"
)

var validate = validator.New()

// Command is one decoded client request. The concrete type says which
// operation was asked for; semantic guards (named, in-room, room match)
// stay with the dispatcher.
type Command interface {
	isCommand()
}

type SetName struct {
	Name string
}

type JoinRoom struct {
	Room string
}

type LeaveRoom struct{}

type SendMessage struct {
	Room    string
	Message string
}

type SendDirect struct {
	To      string `validate:"required"`
	Message string
}

// SendFile relays an opaque base64 payload. Exactly one of To or Room
// selects the destination; with neither set the dispatcher falls back to
// the sender's current room.
type SendFile struct {
	Filename string `validate:"required"`
	Data     string `validate:"required"`
	To       string
	Room     string
}

type ListUsers struct{}

type ListRooms struct{}

type HistoryReq struct {
	Room  string
	Limit int `validate:"gte=0"`
}

func (SetName) isCommand()     {}
func (JoinRoom) isCommand()    {}
func (LeaveRoom) isCommand()   {}
func (SendMessage) isCommand() {}
func (SendDirect) isCommand()  {}
func (SendFile) isCommand()    {}
func (ListUsers) isCommand()   {}
func (ListRooms) isCommand()   {}
func (HistoryReq) isCommand()  {}

// envelope is the superset of all inbound fields; the type tag decides
// which ones are read.
type envelope struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Room     string `json:"room"`
	To       string `json:"to"`
	Message  string `json:"message"`
	Filename string `json:"filename"`
	Data     string `json:"data"`
	Limit    int    `json:"limit"`
}

// Decode parses one line into a Command. A broken line yields
// ErrBadFrame, an unrecognized type tag ErrUnknownCommand; both keep the
// connection usable.
func Decode(line []byte) (Command, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrBadFrame, err)
	}

	cmd, err := fromEnvelope(env)
	if err != nil {
		return nil, err
	}

	if err := validate.Struct(cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidFrame, err)
	}
	return cmd, nil
}

func fromEnvelope(env envelope) (Command, error) {
	switch env.Type {
	case TypeSetName:
		return SetName{Name: env.Name}, nil
	case TypeJoinRoom:
		return JoinRoom{Room: env.Room}, nil
	case TypeLeaveRoom:
		return LeaveRoom{}, nil
	case TypeSendMessage:
		return SendMessage{Room: env.Room, Message: env.Message}, nil
	case TypeSendDirect:
		return SendDirect{To: env.To, Message: env.Message}, nil
	case TypeSendFile:
		return SendFile{Filename: env.Filename, Data: env.Data, To: env.To, Room: env.Room}, nil
	case TypeListUsers:
		return ListUsers{}, nil
	case TypeListRooms:
		return ListRooms{}, nil
	case TypeHistoryReq:
		return HistoryReq{Room: env.Room, Limit: env.Limit}, nil
	default:
		return nil, errors.ErrUnknownCommand
	}
}

// Encode marshals one outbound frame and appends the line delimiter.
func Encode(frame any) ([]byte, error) {
	raw, err := json.Marshal(frame)
	if err != nil {
		return nil, err
	}
	return append(raw, '\n'), nil
}
