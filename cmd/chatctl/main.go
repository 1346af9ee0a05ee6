// Command chatctl prints the most recent messages of a message store. It opens
// the store read-only. A SQLite file can be inspected next to a running relay; a
// Badger directory only once the relay has stopped.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"

	"github.com/Tyrowin/chatrelay/internal/store"
)

func main() {
	driver := flag.String("driver", store.DriverSQLite, "Store driver (sqlite or badger)")
	path := flag.String("path", "chat.db", "Path to the message store")
	limit := flag.Int("limit", 20, "Number of most recent messages to show")
	level := flag.String("log-level", "WARN", "Log level")
	flag.Parse()

	if err := run(*driver, *path, *limit, *level); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(driver, path string, limit int, level string) error {
	log := logs.GetLoggerFromString(level)

	st, err := store.Open(driver, path, log, store.Options{ReadOnly: true})
	if err != nil {
		return err
	}
	defer st.Close()

	messages, err := st.Recent(context.Background(), limit)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Timestamp", "Author", "Text"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.AppendBulk(lo.Map(messages, func(m store.Message, _ int) []string {
		return []string{
			strconv.FormatInt(m.ID, 10),
			m.CreatedAt.UTC().Format(time.RFC3339),
			m.Author,
			m.Text,
		}
	}))
	table.Render()

	fmt.Printf("%d message(s)\n", len(messages))
	return nil
}
