package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
)

// Document names shared by all backends.
const (
	DocAnswers    = "answers"
	DocMessages   = "messages"
	DocUnanswered = "unanswered"
)

const DefaultMessageLogCap = 1000

var ErrClosed = errors.New("store closed")

// Backend persists whole JSON documents by name. Load returns (nil, nil) for
// a document that was never written. Save replaces every given document; a
// reader never observes a partially written document.
type Backend interface {
	Load(name string) ([]byte, error)
	Save(docs map[string][]byte) error
	Close() error
}

// Answers maps a normalized query to its resolved answer.
type Answers map[string]string

// MessageLog is the ingested source-of-truth messages, oldest first.
type MessageLog struct {
	Global []string `json:"global"`
}

type PendingEntry struct {
	UserID string `json:"user_id"`
	Query  string `json:"query"`
}

// Unanswered maps a normalized query to the deferred question.
type Unanswered map[string]PendingEntry

// Snapshot is the full persisted state.
type Snapshot struct {
	Answers    Answers
	Messages   MessageLog
	Unanswered Unanswered
}

// Store owns every read-modify-write of the persisted state. All mutations
// are serialized through it, so the live pipeline and the reconciliation
// loop cannot interleave writes to the same document.
type Store struct {
	mu          sync.Mutex
	backend     Backend
	maxMessages int
	closed      bool
}

func New(backend Backend, maxMessages int) *Store {
	if maxMessages <= 0 {
		maxMessages = DefaultMessageLogCap
	}
	return &Store{backend: backend, maxMessages: maxMessages}
}

// Key normalizes query text for use as a document key.
func Key(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}

// Load returns the current snapshot, with empty skeletons for absent documents.
func (s *Store) Load() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Snapshot{}, ErrClosed
	}
	return s.loadUnlocked()
}

// Save overwrites all three documents with the given snapshot.
func (s *Store) Save(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	snap.Messages.Global = capMessages(snap.Messages.Global, s.maxMessages)
	return s.saveUnlocked(map[string]any{
		DocAnswers:    nonNilAnswers(snap.Answers),
		DocMessages:   snap.Messages,
		DocUnanswered: nonNilUnanswered(snap.Unanswered),
	})
}

// Answer returns the cached answer for query, if any.
func (s *Store) Answer(query string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, ErrClosed
	}
	answers, err := s.loadAnswers()
	if err != nil {
		return "", false, err
	}
	a, ok := answers[Key(query)]
	return a, ok && a != "", nil
}

// Messages returns the ingested message log, oldest first.
func (s *Store) Messages() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	ml, err := s.loadMessages()
	if err != nil {
		return nil, err
	}
	return ml.Global, nil
}

// AppendMessage adds text to the message log unless an identical message is
// already present. The log keeps only the most recent entries.
func (s *Store) AppendMessage(text string) (bool, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	ml, err := s.loadMessages()
	if err != nil {
		return false, err
	}
	for _, m := range ml.Global {
		if m == text {
			return false, nil
		}
	}
	ml.Global = capMessages(append(ml.Global, text), s.maxMessages)
	if err := s.saveUnlocked(map[string]any{DocMessages: ml}); err != nil {
		return false, err
	}
	return true, nil
}

// Unanswered returns the pending queue.
func (s *Store) Unanswered() (Unanswered, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.loadUnanswered()
}

// AddUnanswered enqueues query. A second call for the same query is a no-op.
func (s *Store) AddUnanswered(query, userID string) (bool, error) {
	key := Key(query)
	if key == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	queue, err := s.loadUnanswered()
	if err != nil {
		return false, err
	}
	if _, ok := queue[key]; ok {
		return false, nil
	}
	queue[key] = PendingEntry{UserID: userID, Query: query}
	if err := s.saveUnlocked(map[string]any{DocUnanswered: queue}); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveAnswered drops query from the pending queue.
func (s *Store) RemoveAnswered(query string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	queue, err := s.loadUnanswered()
	if err != nil {
		return false, err
	}
	key := Key(query)
	if _, ok := queue[key]; !ok {
		return false, nil
	}
	delete(queue, key)
	if err := s.saveUnlocked(map[string]any{DocUnanswered: queue}); err != nil {
		return false, err
	}
	return true, nil
}

// Resolve caches answer for query and removes query from the pending queue
// in a single backend write.
func (s *Store) Resolve(query, answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.resolveUnlocked(query, answer)
	return err
}

// ResolvePending is Resolve for an entry taken from an earlier snapshot. It
// reports false when the entry had already been removed by someone else; the
// answer is cached either way.
func (s *Store) ResolvePending(query, answer string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed, err := s.resolveUnlocked(query, answer)
	if err == nil && !removed {
		log.Printf("🔀 Pending query %q was already resolved concurrently", query)
	}
	return removed, err
}

func (s *Store) resolveUnlocked(query, answer string) (bool, error) {
	if s.closed {
		return false, ErrClosed
	}
	key := Key(query)
	if key == "" || strings.TrimSpace(answer) == "" {
		return false, fmt.Errorf("resolve: empty query or answer")
	}
	answers, err := s.loadAnswers()
	if err != nil {
		return false, err
	}
	queue, err := s.loadUnanswered()
	if err != nil {
		return false, err
	}
	answers[key] = answer
	docs := map[string]any{DocAnswers: answers}
	_, removed := queue[key]
	if removed {
		delete(queue, key)
		docs[DocUnanswered] = queue
	}
	return removed, s.saveUnlocked(docs)
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.backend.Close()
}

func (s *Store) loadUnlocked() (Snapshot, error) {
	answers, err := s.loadAnswers()
	if err != nil {
		return Snapshot{}, err
	}
	ml, err := s.loadMessages()
	if err != nil {
		return Snapshot{}, err
	}
	queue, err := s.loadUnanswered()
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Answers: answers, Messages: ml, Unanswered: queue}, nil
}

func (s *Store) loadAnswers() (Answers, error) {
	answers := Answers{}
	if err := s.decode(DocAnswers, &answers); err != nil {
		return nil, err
	}
	return nonNilAnswers(answers), nil
}

func (s *Store) loadMessages() (MessageLog, error) {
	var ml MessageLog
	if err := s.decode(DocMessages, &ml); err != nil {
		return MessageLog{}, err
	}
	if ml.Global == nil {
		ml.Global = []string{}
	}
	return ml, nil
}

func (s *Store) loadUnanswered() (Unanswered, error) {
	queue := Unanswered{}
	if err := s.decode(DocUnanswered, &queue); err != nil {
		return nil, err
	}
	return nonNilUnanswered(queue), nil
}

func (s *Store) decode(name string, v any) error {
	data, err := s.backend.Load(name)
	if err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		// malformed -> start fresh, same as an absent document
		log.Printf("⚠️ Document %s is malformed, treating as empty: %v", name, err)
	}
	return nil
}

func (s *Store) saveUnlocked(docs map[string]any) error {
	raw := make(map[string][]byte, len(docs))
	for name, v := range docs {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("encode %s: %w", name, err)
		}
		raw[name] = b
	}
	var prior map[string][]byte
	if len(raw) > 1 {
		prior = make(map[string][]byte, len(raw))
		for name := range raw {
			data, err := s.backend.Load(name)
			if err != nil {
				return fmt.Errorf("load %s: %w", name, err)
			}
			prior[name] = data
		}
	}
	if err := s.backend.Save(raw); err != nil {
		if prior != nil {
			s.restore(prior)
		}
		return fmt.Errorf("save: %w", err)
	}
	return nil
}

// restore puts back documents a failed multi-document save may have replaced.
// A document that did not exist before is written as its empty skeleton.
func (s *Store) restore(prior map[string][]byte) {
	docs := make(map[string][]byte, len(prior))
	for name, data := range prior {
		if data == nil {
			data = emptyDocument(name)
		}
		docs[name] = data
	}
	if err := s.backend.Save(docs); err != nil {
		log.Printf("⚠️ Failed to restore documents after a failed save: %v", err)
	}
}

func emptyDocument(name string) []byte {
	if name == DocMessages {
		return []byte(`{"global": []}`)
	}
	return []byte(`{}`)
}

func capMessages(msgs []string, limit int) []string {
	if msgs == nil {
		return []string{}
	}
	if len(msgs) > limit {
		return append([]string(nil), msgs[len(msgs)-limit:]...)
	}
	return msgs
}

func nonNilAnswers(a Answers) Answers {
	if a == nil {
		return Answers{}
	}
	return a
}

func nonNilUnanswered(u Unanswered) Unanswered {
	if u == nil {
		return Unanswered{}
	}
	return u
}
