package ingest

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const defaultGmailMaxResults = 20

// GmailSource ingests announcement mails matching a Gmail search query.
type GmailSource struct {
	svc        *gmail.Service
	query      string
	maxResults int64
}

// NewGmailSource authorizes with an installed/web OAuth client JSON and a
// long-lived refresh token.
func NewGmailSource(ctx context.Context, credentialsJSON, refreshToken, query string) (*GmailSource, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("gmail refresh token is empty")
	}
	cfg, err := google.ConfigFromJSON([]byte(credentialsJSON), gmail.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parse gmail credentials: %w", err)
	}
	ts := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	svc, err := gmail.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, ts)))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return NewGmailSourceWithService(svc, query), nil
}

func NewGmailSourceWithService(svc *gmail.Service, query string) *GmailSource {
	return &GmailSource{svc: svc, query: query, maxResults: defaultGmailMaxResults}
}

func (g *GmailSource) Name() string { return "gmail" }

func (g *GmailSource) Fetch(ctx context.Context) ([]string, error) {
	list, err := g.svc.Users.Messages.List("me").Q(g.query).MaxResults(g.maxResults).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	var out []string
	// The API lists newest first.
	for i := len(list.Messages) - 1; i >= 0; i-- {
		id := list.Messages[i].Id
		msg, err := g.svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
		if err != nil {
			log.Printf("⚠️ Failed to get message %s: %v", id, err)
			continue
		}
		if text := mailText(msg); text != "" {
			out = append(out, text)
		}
	}
	return out, nil
}

func mailText(msg *gmail.Message) string {
	var subject, body string
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			if h.Name == "Subject" {
				subject = h.Value
			}
		}
		body = messageBody(msg.Payload)
	}
	if body == "" {
		body = msg.Snippet
	}
	body = strings.Join(strings.Fields(stripHTML(body)), " ")
	switch {
	case subject == "":
		return body
	case body == "":
		return subject
	default:
		return subject + "\n" + body
	}
}

func messageBody(part *gmail.MessagePart) string {
	if part.Body != nil && part.Body.Data != "" && (part.MimeType == "" || strings.HasPrefix(part.MimeType, "text/")) {
		if b, err := decodeBody(part.Body.Data); err == nil {
			return b
		}
	}
	for _, p := range part.Parts {
		if p.MimeType == "text/plain" && p.Body != nil && p.Body.Data != "" {
			if b, err := decodeBody(p.Body.Data); err == nil {
				return b
			}
		}
	}
	for _, p := range part.Parts {
		if b := messageBody(p); b != "" {
			return b
		}
	}
	return ""
}

func decodeBody(data string) (string, error) {
	b, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		b, err = base64.RawURLEncoding.DecodeString(data)
	}
	return string(b), err
}
