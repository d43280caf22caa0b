// Dumps a room's persisted history straight from the badger directory,
// for offline debugging while the relay is stopped.
package main

import (
	"flag"
	"log"
	"os"
	"strconv"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"

	"chat-relay/domain"
	"chat-relay/repositories"
)

func main() {
	dbPath := flag.String("db", "./badger", "Path to badger DB")
	room := flag.String("room", domain.DefaultRoom, "Room to dump")
	limit := flag.Int("limit", repositories.DefaultHistoryLimit, "Max messages to show")
	flag.Parse()

	db, err := badger.Open(badger.DefaultOptions(*dbPath).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true))
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	history := repositories.NewHistoryRepository(db, logs.GetLoggerFromString("error"))
	messages, err := history.ReadRecent(*room, *limit)
	if err != nil {
		log.Fatal("Error while reading history: ", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Timestamp", "Room", "Sender", "Message"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, msg := range messages {
		table.Append([]string{
			strconv.FormatInt(msg.ID, 10),
			msg.At.Format("2006-01-02 15:04:05"),
			msg.Room,
			msg.Sender,
			msg.Body,
		})
	}
	table.Render()
}
