package ingest

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// Source is an external source-of-truth feed of announcement texts.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]string, error)
}

// Appender stores one ingested message; it reports false for duplicates.
type Appender interface {
	AppendMessage(text string) (bool, error)
}

type Ingester struct {
	store Appender
}

func New(store Appender) *Ingester {
	return &Ingester{store: store}
}

// Ingest fetches src and appends every new text to the message log. It
// returns the number of messages actually added.
func (i *Ingester) Ingest(ctx context.Context, src Source) (int, error) {
	texts, err := src.Fetch(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", src.Name(), err)
	}
	added := 0
	for _, t := range texts {
		ok, err := i.store.AppendMessage(t)
		if err != nil {
			return added, fmt.Errorf("store message from %s: %w", src.Name(), err)
		}
		if ok {
			added++
		}
	}
	log.Printf("📥 Ingested %d new message(s) from %s (%d fetched)", added, src.Name(), len(texts))
	return added, nil
}

// Job adapts Ingest to a scheduled job.
func (i *Ingester) Job(src Source) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := i.Ingest(ctx, src)
		return err
	}
}

// Preview returns the first n runes of text followed by "...", as used in
// ingestion acknowledgements.
func Preview(text string, n int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) > n {
		runes = runes[:n]
	}
	return string(runes) + "..."
}
