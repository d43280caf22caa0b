// Package internal hosts the optional debug inspector: a small HTTP
// page showing recent persisted messages per room and live process
// stats. Never exposed unless a debug port is configured.
package internal

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/process"

	"chat-relay/domain"
	"chat-relay/repositories"
)

//go:embed inspect.html
var templatesFS embed.FS

type RoomLister interface {
	List() []string
}

type InspectRow struct {
	ID        int64
	Timestamp string
	Room      string
	Sender    string
	Body      string
}

type PageData struct {
	Room  string
	Rooms []string
	Items []InspectRow
	Stats map[string]any
}

// StartDebugServer serves /inspect on the given port in a background
// goroutine. Best-effort: a failed listen only loses the debug page.
func StartDebugServer(history repositories.IHistoryRepository, rooms RoomLister, port int) {
	mux := http.NewServeMux()
	tmpl := template.Must(template.ParseFS(templatesFS, "inspect.html"))

	mux.HandleFunc("/inspect", func(w http.ResponseWriter, r *http.Request) {
		room := r.URL.Query().Get("room")
		if room == "" {
			room = domain.DefaultRoom
		}

		data := PageData{
			Room:  room,
			Rooms: rooms.List(),
			Stats: processStats(),
		}

		messages, err := history.ReadRecent(room, repositories.DefaultHistoryLimit)
		if err == nil {
			for _, msg := range messages {
				data.Items = append(data.Items, InspectRow{
					ID:        msg.ID,
					Timestamp: msg.At.Format("15:04:05"),
					Room:      msg.Room,
					Sender:    msg.Sender,
					Body:      msg.Body,
				})
			}
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = tmpl.Execute(w, data)
	})

	go func() {
		_ = http.ListenAndServe(fmt.Sprintf("127.0.0.1:%d", port), mux)
	}()
}

func processStats() map[string]any {
	stats := map[string]any{
		"goroutines": runtime.NumGoroutine(),
		"time":       time.Now().UTC().Format(time.RFC3339),
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return stats
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		stats["rss_mb"] = fmt.Sprintf("%.1f", float64(mem.RSS)/(1024*1024))
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		stats["cpu_percent"] = fmt.Sprintf("%.1f", cpu)
	}
	return stats
}
