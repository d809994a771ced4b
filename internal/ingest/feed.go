package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

const defaultFeedMaxAge = 7 * 24 * time.Hour

// FeedSource reads announcements from an RSS or Atom feed.
type FeedSource struct {
	url    string
	parser *gofeed.Parser
	maxAge time.Duration
	now    func() time.Time
}

func NewFeedSource(url string) *FeedSource {
	return &FeedSource{url: url, parser: gofeed.NewParser(), maxAge: defaultFeedMaxAge, now: time.Now}
}

func (f *FeedSource) Name() string { return "feed " + f.url }

func (f *FeedSource) Fetch(ctx context.Context) ([]string, error) {
	feed, err := f.parser.ParseURLWithContext(f.url, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	cutoff := f.now().Add(-f.maxAge)
	var out []string
	// Feeds list newest first; the log is oldest first.
	for i := len(feed.Items) - 1; i >= 0; i-- {
		item := feed.Items[i]
		if pub := item.PublishedParsed; pub != nil && pub.Before(cutoff) {
			continue
		}
		if text := feedItemText(item); text != "" {
			out = append(out, text)
		}
	}
	return out, nil
}

func feedItemText(item *gofeed.Item) string {
	desc := item.Description
	if desc == "" {
		desc = item.Content
	}
	var parts []string
	for _, p := range []string{stripHTML(item.Title), stripHTML(desc), item.Link} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n")
}

func stripHTML(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
