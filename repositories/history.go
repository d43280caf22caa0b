//go:generate go run go.uber.org/mock/mockgen -source=history.go -destination=../mocks/mock_history_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"

	"chat-relay/domain"
)

const (
	// DefaultHistoryLimit applies when a client asks for history without
	// a limit.
	DefaultHistoryLimit = 50
	// MaxHistoryLimit caps any single history read.
	MaxHistoryLimit = 500

	idDigits = 20
	idCeil   = "99999999999999999999"
)

type IHistoryRepository interface {
	Append(room, sender, body string, at time.Time) (int64, error)
	ReadRecent(room string, limit int) ([]domain.Message, error)
}

// HistoryRepository persists room messages in BadgerDB.
// The key is formatted as "msg:{room}:{id_padded}" to:
//  1. Ensure chronological sorting using 20-digit zero padding
//     (lexicographical order equals id order).
//  2. Keep per-room prefix scans cheap for bounded recent reads.
//
// Ids are assigned here, under one mutex, which makes the repository the
// single serialization point for message order: concurrent appends to
// the same room can never produce non-monotonic ids.
type HistoryRepository struct {
	db  *badger.DB
	log *slog.Logger

	mu     sync.Mutex
	nextID map[string]int64
}

func NewHistoryRepository(db *badger.DB, log *slog.Logger) *HistoryRepository {
	return &HistoryRepository{db: db, log: log, nextID: make(map[string]int64)}
}

type storedMessage struct {
	ID     int64  `json:"id"`
	Room   string `json:"room"`
	Sender string `json:"sender"`
	Body   string `json:"body"`
	At     int64  `json:"at"`
}

// Append writes one message durably and returns its assigned id. Ids
// are strictly increasing per room in call order.
func (h *HistoryRepository) Append(room, sender, body string, at time.Time) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id, err := h.reserveIDLocked(room)
	if err != nil {
		return 0, err
	}

	raw, err := json.Marshal(storedMessage{
		ID:     id,
		Room:   room,
		Sender: sender,
		Body:   body,
		At:     at.UnixNano(),
	})
	if err != nil {
		return 0, err
	}

	key := messageKey(room, id)
	err = h.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, raw)
	})
	if err != nil {
		// Leave the counter advanced: a gap is fine, a reused id is not.
		return 0, err
	}
	return id, nil
}

// ReadRecent returns up to limit of the newest messages for a room,
// oldest first. limit is clamped to [1, MaxHistoryLimit]; zero or
// negative means DefaultHistoryLimit.
func (h *HistoryRepository) ReadRecent(room string, limit int) ([]domain.Message, error) {
	limit = clampLimit(limit)

	var collected []storedMessage
	err := h.db.View(func(txn *badger.Txn) error {
		prefix := []byte(roomPrefix(room))
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		seekKey := append(append([]byte{}, prefix...), []byte(idCeil)...)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if len(collected) == limit {
				break
			}
			err := it.Item().Value(func(value []byte) error {
				var msg storedMessage
				if err := json.Unmarshal(value, &msg); err != nil {
					return err
				}
				// A room name containing the key separator can alias
				// another room's prefix; the stored record is
				// authoritative.
				if msg.Room != room {
					return nil
				}
				collected = append(collected, msg)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Reverse scan collected newest-first.
	collected = lo.Reverse(collected)
	return lo.Map(collected, func(item storedMessage, _ int) domain.Message {
		return domain.Message{
			ID:     item.ID,
			Room:   item.Room,
			Sender: item.Sender,
			Body:   item.Body,
			At:     time.Unix(0, item.At).UTC(),
		}
	}), nil
}

// reserveIDLocked hands out the next id for a room, recovering the
// counter from the newest stored key on first touch after a restart.
func (h *HistoryRepository) reserveIDLocked(room string) (int64, error) {
	if id, ok := h.nextID[room]; ok {
		h.nextID[room] = id + 1
		return id, nil
	}

	last, err := h.lastStoredID(room)
	if err != nil {
		return 0, err
	}
	id := last + 1
	h.nextID[room] = id + 1
	return id, nil
}

func (h *HistoryRepository) lastStoredID(room string) (int64, error) {
	var last int64
	err := h.db.View(func(txn *badger.Txn) error {
		prefix := []byte(roomPrefix(room))
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		seekKey := append(append([]byte{}, prefix...), []byte(idCeil)...)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			var msg storedMessage
			err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &msg)
			})
			if err != nil {
				return fmt.Errorf("corrupt history record %q: %w", string(it.Item().Key()), err)
			}
			// Same aliasing guard as ReadRecent: a room name containing
			// the key separator writes under another room's prefix, and
			// its newest key can sort above ours. The stored record is
			// authoritative.
			if msg.Room != room {
				continue
			}
			last = msg.ID
			return nil
		}
		return nil
	})
	return last, err
}

func roomPrefix(room string) string {
	return fmt.Sprintf("msg:%s:", room)
}

func messageKey(room string, id int64) []byte {
	return []byte(fmt.Sprintf("msg:%s:%0*d", room, idDigits, id))
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}
