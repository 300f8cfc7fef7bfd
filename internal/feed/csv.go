// Package feed reads scripted client input from a ';'-separated file. Each
// record is one DATA payload; an optional second field is a pause taken
// before sending it ("250ms").
package feed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/juanpablocruz/uap/pkg/client"
)

type Item struct {
	Payload []byte
	Pause   time.Duration
}

var ErrEmpty = errors.New("feed: no records")

func Read(r io.Reader) ([]Item, error) {
	csvReader := csv.NewReader(r)
	csvReader.Comma = ';'
	csvReader.LazyQuotes = true
	csvReader.FieldsPerRecord = -1
	csvReader.Comment = '#'
	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("feed: %w", err)
	}
	items := make([]Item, 0, len(records))
	for i, rec := range records {
		it := Item{Payload: []byte(rec[0])}
		if len(rec) > 1 && strings.TrimSpace(rec[1]) != "" {
			d, err := time.ParseDuration(strings.TrimSpace(rec[1]))
			if err != nil || d < 0 {
				return nil, fmt.Errorf("feed: record %d: bad pause %q", i+1, rec[1])
			}
			it.Pause = d
		}
		items = append(items, it)
	}
	if len(items) == 0 {
		return nil, ErrEmpty
	}
	return items, nil
}

func ReadFile(path string) ([]Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("feed: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Commands plays items in order and then sends Quit. The goroutine stops
// early when ctx is done; the channel is closed either way.
func Commands(ctx context.Context, items []Item) <-chan client.Command {
	out := make(chan client.Command)
	go func() {
		defer close(out)
		for _, it := range items {
			if it.Pause > 0 {
				t := time.NewTimer(it.Pause)
				select {
				case <-t.C:
				case <-ctx.Done():
					t.Stop()
					return
				}
			}
			select {
			case out <- client.Command{Data: it.Payload}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case out <- client.Command{Quit: true}:
		case <-ctx.Done():
		}
	}()
	return out
}
