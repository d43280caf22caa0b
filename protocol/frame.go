// Package protocol defines the newline-delimited JSON frames exchanged
// with clients. One frame per line, UTF-8, empty lines ignored.
package protocol

// Outbound frame type tags.
const (
	TypeOK       = "OK"
	TypeErr      = "ERR"
	TypeNotice   = "NOTICE"
	TypeUserList = "LIST"
	TypeRoomList = "LISTROOMS"
	TypeMessage  = "MSG"
	TypeFile     = "FILE"
	TypeHistory  = "HISTORY"
)

// Status carries OK, ERR and NOTICE replies.
type Status struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func OK(message string) Status     { return Status{Type: TypeOK, Message: message} }
func Err(message string) Status    { return Status{Type: TypeErr, Message: message} }
func Notice(message string) Status { return Status{Type: TypeNotice, Message: message} }

// UserList is the member list of one room. Room is null when the
// requester is not in any room.
type UserList struct {
	Type  string   `json:"type"`
	Room  *string  `json:"room"`
	Users []string `json:"users"`
}

func NewUserList(room string, users []string) UserList {
	if users == nil {
		users = []string{}
	}
	return UserList{Type: TypeUserList, Room: &room, Users: users}
}

func EmptyUserList() UserList {
	return UserList{Type: TypeUserList, Room: nil, Users: []string{}}
}

type RoomList struct {
	Type  string   `json:"type"`
	Rooms []string `json:"rooms"`
}

func NewRoomList(rooms []string) RoomList {
	return RoomList{Type: TypeRoomList, Rooms: rooms}
}

// ChatMessage is a relayed room broadcast or direct message. Room is
// omitted on direct messages.
type ChatMessage struct {
	Type    string `json:"type"`
	From    string `json:"from"`
	Room    string `json:"room,omitempty"`
	Message string `json:"message"`
	Private bool   `json:"private"`
}

// FileRelay carries an opaque base64 payload between clients. Never
// persisted. ContentType is a best-effort sniff for the receiving UI.
type FileRelay struct {
	Type        string `json:"type"`
	From        string `json:"from"`
	Room        string `json:"room,omitempty"`
	Filename    string `json:"filename"`
	Data        string `json:"data"`
	ContentType string `json:"content_type,omitempty"`
	Private     bool   `json:"private"`
}

// HistoryEntry mirrors one persisted message on the wire. Timestamp is
// RFC 3339 in UTC.
type HistoryEntry struct {
	ID        int64  `json:"id"`
	Timestamp string `json:"timestamp"`
	From      string `json:"from"`
	Message   string `json:"message"`
}

type History struct {
	Type     string         `json:"type"`
	Room     string         `json:"room"`
	Messages []HistoryEntry `json:"messages"`
}

func NewHistory(room string, messages []HistoryEntry) History {
	if messages == nil {
		messages = []HistoryEntry{}
	}
	return History{Type: TypeHistory, Room: room, Messages: messages}
}
