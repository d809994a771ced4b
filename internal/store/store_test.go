package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func newFileStore(t *testing.T, maxMessages int) (*Store, map[string]string) {
	t.Helper()
	dir := t.TempDir()
	paths := map[string]string{
		DocAnswers:    filepath.Join(dir, "memory.json"),
		DocMessages:   filepath.Join(dir, "global_memory.json"),
		DocUnanswered: filepath.Join(dir, "unanswered.json"),
	}
	b, err := NewFileBackend(paths)
	require.NoError(t, err)
	return New(b, maxMessages), paths
}

func newSQLiteStore(t *testing.T, maxMessages int) *Store {
	t.Helper()
	b, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "support.db"))
	require.NoError(t, err)
	s := New(b, maxMessages)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func forEachBackend(t *testing.T, maxMessages int, fn func(t *testing.T, s *Store)) {
	t.Run("file", func(t *testing.T) {
		s, _ := newFileStore(t, maxMessages)
		fn(t, s)
	})
	t.Run("sqlite", func(t *testing.T) {
		fn(t, newSQLiteStore(t, maxMessages))
	})
}

func TestLoad_AbsentDocumentsYieldSkeleton(t *testing.T) {
	forEachBackend(t, 0, func(t *testing.T, s *Store) {
		snap, err := s.Load()
		require.NoError(t, err)
		require.NotNil(t, snap.Answers)
		require.NotNil(t, snap.Unanswered)
		require.NotNil(t, snap.Messages.Global)
		require.Empty(t, snap.Messages.Global)
	})
}

func TestAppendMessage_DedupAndCap(t *testing.T) {
	forEachBackend(t, 3, func(t *testing.T, s *Store) {
		for _, m := range []string{"a", "b", "a", "c", "d", "  "} {
			_, err := s.AppendMessage(m)
			require.NoError(t, err)
		}
		msgs, err := s.Messages()
		require.NoError(t, err)
		require.Equal(t, []string{"b", "c", "d"}, msgs)

		added, err := s.AppendMessage("d")
		require.NoError(t, err)
		require.False(t, added)
	})
}

func TestMessageLog_RoundTripKeepsMostRecent(t *testing.T) {
	forEachBackend(t, 1000, func(t *testing.T, s *Store) {
		var want []string
		for i := 0; i < 1005; i++ {
			msg := fmt.Sprintf("message %d", i)
			want = append(want, msg)
			_, err := s.AppendMessage(msg)
			require.NoError(t, err)
		}
		msgs, err := s.Messages()
		require.NoError(t, err)
		require.Len(t, msgs, 1000)
		require.Equal(t, want[5:], msgs)
	})
}

func TestAddUnanswered_Idempotent(t *testing.T) {
	forEachBackend(t, 0, func(t *testing.T, s *Store) {
		added, err := s.AddUnanswered("When is the airdrop?", "u1")
		require.NoError(t, err)
		require.True(t, added)

		added, err = s.AddUnanswered("When is the airdrop?", "u2")
		require.NoError(t, err)
		require.False(t, added)

		q, err := s.Unanswered()
		require.NoError(t, err)
		require.Len(t, q, 1)
		require.Equal(t, PendingEntry{UserID: "u1", Query: "When is the airdrop?"}, q[Key("When is the airdrop?")])
	})
}

func TestResolve_CachesAndRemovesPending(t *testing.T) {
	forEachBackend(t, 0, func(t *testing.T, s *Store) {
		_, err := s.AddUnanswered("What is a Core Bank?", "u1")
		require.NoError(t, err)

		require.NoError(t, s.Resolve("what is a  core bank?", "A Core Bank is the protocol bank."))

		ans, ok, err := s.Answer("What is a Core Bank?")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "A Core Bank is the protocol bank.", ans)

		q, err := s.Unanswered()
		require.NoError(t, err)
		require.Empty(t, q)
	})
}

func TestResolvePending_ReportsConcurrentRemoval(t *testing.T) {
	forEachBackend(t, 0, func(t *testing.T, s *Store) {
		_, err := s.AddUnanswered("q", "u")
		require.NoError(t, err)

		removed, err := s.ResolvePending("q", "first")
		require.NoError(t, err)
		require.True(t, removed)

		removed, err = s.ResolvePending("q", "second")
		require.NoError(t, err)
		require.False(t, removed)

		ans, _, err := s.Answer("q")
		require.NoError(t, err)
		require.Equal(t, "second", ans)
	})
}

func TestResolve_RejectsEmpty(t *testing.T) {
	s, _ := newFileStore(t, 0)
	require.Error(t, s.Resolve("", "x"))
	require.Error(t, s.Resolve("q", "  "))
}

func TestRemoveAnswered(t *testing.T) {
	forEachBackend(t, 0, func(t *testing.T, s *Store) {
		removed, err := s.RemoveAnswered("missing")
		require.NoError(t, err)
		require.False(t, removed)

		_, err = s.AddUnanswered("q", "u")
		require.NoError(t, err)
		removed, err = s.RemoveAnswered("Q")
		require.NoError(t, err)
		require.True(t, removed)
	})
}

func TestSaveThenLoad(t *testing.T) {
	forEachBackend(t, 2, func(t *testing.T, s *Store) {
		in := Snapshot{
			Answers:    Answers{"q": "a"},
			Messages:   MessageLog{Global: []string{"1", "2", "3"}},
			Unanswered: Unanswered{"p": {UserID: "u", Query: "P"}},
		}
		require.NoError(t, s.Save(in))
		out, err := s.Load()
		require.NoError(t, err)
		require.Equal(t, in.Answers, out.Answers)
		require.Equal(t, []string{"2", "3"}, out.Messages.Global)
		require.Equal(t, in.Unanswered, out.Unanswered)
	})
}

func TestFileLayout_MatchesPersistedSchema(t *testing.T) {
	s, paths := newFileStore(t, 0)
	_, err := s.AppendMessage("airdrop is live now")
	require.NoError(t, err)
	_, err = s.AddUnanswered("wen airdrop", "42")
	require.NoError(t, err)

	raw, err := os.ReadFile(paths[DocMessages])
	require.NoError(t, err)
	require.JSONEq(t, `{"global":["airdrop is live now"]}`, string(raw))

	raw, err = os.ReadFile(paths[DocUnanswered])
	require.NoError(t, err)
	require.JSONEq(t, `{"wen airdrop":{"user_id":"42","query":"wen airdrop"}}`, string(raw))
}

func TestMalformedDocumentTreatedAsEmpty(t *testing.T) {
	s, paths := newFileStore(t, 0)
	require.NoError(t, os.WriteFile(paths[DocAnswers], []byte("{not json"), 0o644))
	_, ok, err := s.Answer("q")
	require.NoError(t, err)
	require.False(t, ok)
}

type failingBackend struct{ saveErr error }

func (f failingBackend) Load(string) ([]byte, error)  { return nil, nil }
func (f failingBackend) Save(map[string][]byte) error { return f.saveErr }
func (f failingBackend) Close() error                 { return nil }

func TestSaveErrorsPropagate(t *testing.T) {
	boom := errors.New("disk full")
	s := New(failingBackend{saveErr: boom}, 0)
	_, err := s.AddUnanswered("q", "u")
	require.ErrorIs(t, err, boom)
}

// memBackend applies documents one at a time in name order and can be told to
// fail on one of them, leaving earlier documents written.
type memBackend struct {
	docs   map[string][]byte
	failOn string
}

func (m *memBackend) Load(name string) ([]byte, error) { return m.docs[name], nil }

func (m *memBackend) Save(docs map[string][]byte) error {
	names := make([]string, 0, len(docs))
	for name := range docs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if name == m.failOn {
			return fmt.Errorf("write %s: disk full", name)
		}
		m.docs[name] = docs[name]
	}
	return nil
}

func (m *memBackend) Close() error { return nil }

func TestResolve_FailedPendingWriteLeavesAnswerUncached(t *testing.T) {
	b := &memBackend{docs: map[string][]byte{}}
	s := New(b, 0)
	_, err := s.AddUnanswered("How do I stake?", "42")
	require.NoError(t, err)
	require.NoError(t, s.Resolve("old question", "old answer"))

	b.failOn = DocUnanswered
	require.Error(t, s.Resolve("How do I stake?", "Open the staking tab."))

	b.failOn = ""
	_, ok, err := s.Answer("How do I stake?")
	require.NoError(t, err)
	require.False(t, ok, "answer must not be cached while the query is still pending")
	old, ok, err := s.Answer("old question")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "old answer", old)
	queue, err := s.Unanswered()
	require.NoError(t, err)
	require.Contains(t, queue, Key("How do I stake?"))
}

func TestFileBackend_FailedReplaceRestoresEarlierDocuments(t *testing.T) {
	dir := t.TempDir()
	paths := map[string]string{
		DocAnswers:    filepath.Join(dir, "memory.json"),
		DocUnanswered: filepath.Join(dir, "unanswered.json"),
	}
	b, err := NewFileBackend(paths)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(paths[DocAnswers], []byte(`{"old":"x"}`), 0o644))
	// a non-empty directory at the target makes the rename fail
	require.NoError(t, os.MkdirAll(filepath.Join(paths[DocUnanswered], "blocked"), 0o755))

	err = b.Save(map[string][]byte{
		DocAnswers:    []byte(`{"q":"a"}`),
		DocUnanswered: []byte(`{}`),
	})
	require.Error(t, err)

	data, err := os.ReadFile(paths[DocAnswers])
	require.NoError(t, err)
	require.JSONEq(t, `{"old":"x"}`, string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.NotContains(t, e.Name(), ".tmp", "staged files must be cleaned up")
	}
}

func TestFileBackend_FailedReplaceRemovesNewDocuments(t *testing.T) {
	dir := t.TempDir()
	paths := map[string]string{
		DocAnswers:    filepath.Join(dir, "memory.json"),
		DocUnanswered: filepath.Join(dir, "unanswered.json"),
	}
	b, err := NewFileBackend(paths)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(paths[DocUnanswered], "blocked"), 0o755))

	require.Error(t, b.Save(map[string][]byte{
		DocAnswers:    []byte(`{"q":"a"}`),
		DocUnanswered: []byte(`{}`),
	}))
	_, err = os.Stat(paths[DocAnswers])
	require.True(t, os.IsNotExist(err))
}

func TestClosedStore(t *testing.T) {
	s, _ := newFileStore(t, 0)
	require.NoError(t, s.Close())
	_, err := s.Messages()
	require.ErrorIs(t, err, ErrClosed)
}
