// Line-mode protocol client, handy for poking at a relay without the
// GUI. Slash commands drive the session, anything else is sent to the
// current room.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"chat-relay/protocol"
)

type Config struct {
	ServerAddr string `envconfig:"SERVER_ADDR" default:"127.0.0.1:5000"`
	Name       string `envconfig:"NAME"`
	Colours    bool   `envconfig:"COLOURS" default:"true"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if !cfg.Colours {
		color.Disable()
	}

	conn, err := net.Dial("tcp", cfg.ServerAddr)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.ServerAddr, err)
	}
	defer conn.Close()

	if cfg.Name != "" {
		if err := send(conn, protocol.TypeSetName, map[string]any{"name": cfg.Name}); err != nil {
			return err
		}
	}

	go printLoop(conn)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := handleInput(conn, line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func handleInput(conn net.Conn, line string) error {
	if !strings.HasPrefix(line, "/") {
		return send(conn, protocol.TypeSendMessage, map[string]any{"message": line})
	}

	cmd, rest, _ := strings.Cut(line[1:], " ")
	switch cmd {
	case "name":
		return send(conn, protocol.TypeSetName, map[string]any{"name": rest})
	case "join":
		return send(conn, protocol.TypeJoinRoom, map[string]any{"room": rest})
	case "leave":
		return send(conn, protocol.TypeLeaveRoom, nil)
	case "pm":
		to, text, _ := strings.Cut(rest, " ")
		return send(conn, protocol.TypeSendDirect, map[string]any{"to": to, "message": text})
	case "users":
		return send(conn, protocol.TypeListUsers, nil)
	case "rooms":
		return send(conn, protocol.TypeListRooms, nil)
	case "history":
		room, rawLimit, _ := strings.Cut(rest, " ")
		limit, _ := strconv.Atoi(rawLimit)
		return send(conn, protocol.TypeHistoryReq, map[string]any{"room": room, "limit": limit})
	case "quit":
		os.Exit(0)
		return nil
	default:
		color.Yellow.Printf("Unknown command: /%s\n", cmd)
		return nil
	}
}

func send(conn net.Conn, frameType string, fields map[string]any) error {
	payload := map[string]any{"type": frameType}
	for key, value := range fields {
		payload[key] = value
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = conn.Write(append(raw, '\n'))
	return err
}

func printLoop(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		printFrame(scanner.Bytes())
	}
	color.Red.Println("Disconnected from server")
	os.Exit(1)
}

func printFrame(raw []byte) {
	var frame struct {
		Type    string   `json:"type"`
		From    string   `json:"from"`
		Room    string   `json:"room"`
		Message string   `json:"message"`
		Private bool     `json:"private"`
		Users   []string `json:"users"`
		Rooms   []string `json:"rooms"`
		Messages []struct {
			ID        int64  `json:"id"`
			Timestamp string `json:"timestamp"`
			From      string `json:"from"`
			Message   string `json:"message"`
		} `json:"messages"`
		Filename string `json:"filename"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		color.Red.Printf("Unreadable frame: %s\n", string(raw))
		return
	}

	switch frame.Type {
	case protocol.TypeOK:
		color.Green.Printf("OK: %s\n", frame.Message)
	case protocol.TypeErr:
		color.Red.Printf("ERR: %s\n", frame.Message)
	case protocol.TypeNotice:
		color.Yellow.Printf("* %s\n", frame.Message)
	case protocol.TypeMessage:
		if frame.Private {
			color.Magenta.Printf("[PM] %s: %s\n", frame.From, frame.Message)
		} else {
			fmt.Printf("[%s] %s: %s\n", frame.Room, frame.From, frame.Message)
		}
	case protocol.TypeUserList:
		color.Cyan.Printf("Users in %s: %s\n", frame.Room, strings.Join(frame.Users, ", "))
	case protocol.TypeRoomList:
		color.Cyan.Printf("Rooms: %s\n", strings.Join(frame.Rooms, ", "))
	case protocol.TypeHistory:
		for _, msg := range frame.Messages {
			fmt.Printf("[%s] (%s) %s: %s\n", frame.Room, msg.Timestamp, msg.From, msg.Message)
		}
	case protocol.TypeFile:
		color.Magenta.Printf("File from %s: %s\n", frame.From, frame.Filename)
	default:
		fmt.Println(string(raw))
	}
}
