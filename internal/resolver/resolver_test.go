package resolver

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"support-bot/internal/retrieval"
	"support-bot/internal/store"
)

type fakeEval struct {
	casual bool
	draft  string
	score  float64

	isCasualCalls int
	draftCalls    int
	scoreCalls    int
}

func (f *fakeEval) IsCasual(context.Context, string) bool { f.isCasualCalls++; return f.casual }
func (f *fakeEval) CasualReply(context.Context, string) string {
	return "gm! how can I help?"
}
func (f *fakeEval) DraftAnswer(context.Context, string, []retrieval.Passage) string {
	f.draftCalls++
	return f.draft
}
func (f *fakeEval) ScoreConfidence(context.Context, string, string, []retrieval.Passage) float64 {
	f.scoreCalls++
	return f.score
}

func (f *fakeEval) calls() int { return f.isCasualCalls + f.draftCalls + f.scoreCalls }

type staticCorpus string

func (c staticCorpus) Text() string { return string(c) }

type recordingNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (r *recordingNotifier) Notify(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return nil
}

const corpus = "A Core Bank holds protocol reserves and backs every custom bank.\n\nThe weather is nice."

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	b, err := store.NewFileBackend(map[string]string{
		store.DocAnswers:    filepath.Join(dir, "memory.json"),
		store.DocMessages:   filepath.Join(dir, "global_memory.json"),
		store.DocUnanswered: filepath.Join(dir, "unanswered.json"),
	})
	require.NoError(t, err)
	return store.New(b, 0)
}

func newPipeline(t *testing.T, eval *fakeEval) (*Pipeline, *store.Store, *recordingNotifier) {
	t.Helper()
	st := newTestStore(t)
	n := &recordingNotifier{}
	p := New(st, retrieval.New(retrieval.DefaultConfig()), eval, staticCorpus(corpus), n, DefaultPolicy())
	return p, st, n
}

func resolve(p *Pipeline, text string) Result {
	r := p.Resolve(context.Background(), Query{Text: text, UserID: "42", Channel: "test"})
	p.Wait()
	return r
}

func TestResolve_CacheHitSkipsEverything(t *testing.T) {
	eval := &fakeEval{}
	p, st, _ := newPipeline(t, eval)
	require.NoError(t, st.Resolve("What is a Core Bank?", "cached answer"))

	r := resolve(p, "what is a core bank?")
	require.Equal(t, "cached answer", r.Answer)
	require.Equal(t, SourceCache, r.Source)
	require.False(t, r.Uncertain)
	require.Zero(t, eval.calls())
}

func TestResolve_MessageLogSubstringShortCircuits(t *testing.T) {
	eval := &fakeEval{draft: "should not be used", score: 1}
	p, st, _ := newPipeline(t, eval)
	_, err := st.AppendMessage("Reminder: the AIRDROP IS LIVE now, claim on the dashboard")
	require.NoError(t, err)

	r := resolve(p, "airdrop is live")
	require.Equal(t, "Reminder: the AIRDROP IS LIVE now, claim on the dashboard", r.Answer)
	require.Equal(t, SourceMessageLog, r.Source)
	require.Zero(t, eval.calls())
}

func TestResolve_CasualBypassesRetrieval(t *testing.T) {
	eval := &fakeEval{casual: true}
	p, st, n := newPipeline(t, eval)

	r := resolve(p, "gm everyone")
	require.Equal(t, "gm! how can I help?", r.Answer)
	require.Equal(t, SourceCasual, r.Source)
	require.Zero(t, eval.draftCalls)
	require.Empty(t, n.texts)
	q, err := st.Unanswered()
	require.NoError(t, err)
	require.Empty(t, q)
}

func TestResolve_ConfidenceBands(t *testing.T) {
	tests := []struct {
		name      string
		score     float64
		band      Band
		uncertain bool
		check     func(t *testing.T, answer string)
	}{
		{"top", 1.0, BandConfident, false, func(t *testing.T, a string) { require.Equal(t, "Core Banks hold reserves.", a) }},
		{"high edge", 0.8, BandConfident, false, func(t *testing.T, a string) { require.Equal(t, "Core Banks hold reserves.", a) }},
		{"caveat edge", 0.5, BandCaveat, false, func(t *testing.T, a string) { require.True(t, strings.HasSuffix(a, CaveatSuffix)) }},
		{"caveat", 0.79, BandCaveat, false, func(t *testing.T, a string) { require.True(t, strings.HasSuffix(a, CaveatSuffix)) }},
		{"low", 0.49, BandLow, true, func(t *testing.T, a string) {
			require.True(t, strings.HasPrefix(a, DisclaimerPrefix))
			require.Contains(t, a, "Core Banks hold reserves.")
		}},
		{"zero", 0, BandNone, true, func(t *testing.T, a string) { require.Equal(t, DeferralMessage, a) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval := &fakeEval{draft: "Core Banks hold reserves.", score: tt.score}
			p, _, _ := newPipeline(t, eval)

			r := resolve(p, "What is a Core Bank?")
			require.Equal(t, tt.band, r.Band)
			require.Equal(t, tt.uncertain, r.Uncertain)
			tt.check(t, r.Answer)
		})
	}
}

func TestResolve_ConfidentAnswerIsCachedAndClearsPending(t *testing.T) {
	eval := &fakeEval{draft: "Core Banks hold reserves.", score: 0.9}
	p, st, _ := newPipeline(t, eval)
	_, err := st.AddUnanswered("What is a Core Bank?", "7")
	require.NoError(t, err)

	r := resolve(p, "What is a Core Bank?")
	require.Equal(t, SourceKnowledge, r.Source)

	ans, ok, err := st.Answer("What is a Core Bank?")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Core Banks hold reserves.", ans)
	q, err := st.Unanswered()
	require.NoError(t, err)
	require.Empty(t, q)

	// second ask is served from the cache
	before := eval.calls()
	r = resolve(p, "What is a Core Bank?")
	require.Equal(t, SourceCache, r.Source)
	require.Equal(t, before, eval.calls())
}

func TestResolve_CaveatAnswerClearsPendingWithoutCaching(t *testing.T) {
	eval := &fakeEval{draft: "Core Banks hold reserves.", score: 0.6}
	p, st, _ := newPipeline(t, eval)
	_, err := st.AddUnanswered("What is a Core Bank?", "7")
	require.NoError(t, err)

	resolve(p, "What is a Core Bank?")

	_, ok, err := st.Answer("What is a Core Bank?")
	require.NoError(t, err)
	require.False(t, ok)
	q, err := st.Unanswered()
	require.NoError(t, err)
	require.Empty(t, q)
}

func TestResolve_LowConfidenceDefersAndEscalates(t *testing.T) {
	eval := &fakeEval{draft: "Maybe reserves.", score: 0.2}
	p, st, n := newPipeline(t, eval)

	r := resolve(p, "What is a Core Bank?")
	require.True(t, r.Uncertain)

	q, err := st.Unanswered()
	require.NoError(t, err)
	require.Contains(t, q, store.Key("What is a Core Bank?"))
	require.Len(t, n.texts, 1)
	require.Contains(t, n.texts[0], "low confidence")
}

func TestResolve_ExternalFailuresStillDefer(t *testing.T) {
	// draft failure yields "", scoring failure yields 0
	eval := &fakeEval{draft: "", score: 0}
	p, st, n := newPipeline(t, eval)

	r := resolve(p, "What is a Core Bank?")
	require.True(t, r.Uncertain)
	require.Equal(t, DeferralMessage, r.Answer)
	require.Zero(t, eval.scoreCalls)

	q, err := st.Unanswered()
	require.NoError(t, err)
	require.Equal(t, store.PendingEntry{UserID: "42", Query: "What is a Core Bank?"}, q[store.Key("What is a Core Bank?")])
	require.Len(t, n.texts, 1)
	require.Contains(t, n.texts[0], "What is a Core Bank?")
}

func TestResolve_NoPassagesSkipsDraft(t *testing.T) {
	eval := &fakeEval{draft: "x", score: 1}
	p, _, _ := newPipeline(t, eval)

	r := resolve(p, "zebra giraffe")
	require.Equal(t, BandNone, r.Band)
	require.Zero(t, eval.draftCalls)
}

func TestResolve_MemoryTakesPriority(t *testing.T) {
	eval := &fakeEval{draft: "The airdrop is live.", score: 0.95}
	p, st, _ := newPipeline(t, eval)
	_, err := st.AppendMessage("airdrop is live now")
	require.NoError(t, err)

	r := resolve(p, "wen airdrop")
	require.Equal(t, SourceMemory, r.Source)
	require.Equal(t, "The airdrop is live.", r.Answer)
}

func TestResolve_EmptyQuery(t *testing.T) {
	eval := &fakeEval{}
	p, _, _ := newPipeline(t, eval)
	r := resolve(p, "   ")
	require.Equal(t, EmptyQueryReply, r.Answer)
	require.Zero(t, eval.calls())
}

func TestPolicy_ClassifyPartition(t *testing.T) {
	p := DefaultPolicy()
	require.Equal(t, BandConfident, p.Classify(1))
	require.Equal(t, BandConfident, p.Classify(0.8))
	require.Equal(t, BandCaveat, p.Classify(0.7999))
	require.Equal(t, BandCaveat, p.Classify(0.5))
	require.Equal(t, BandLow, p.Classify(0.4999))
	require.Equal(t, BandLow, p.Classify(0.0001))
	require.Equal(t, BandNone, p.Classify(0))
}

func TestFindInLog(t *testing.T) {
	msgs := []string{"Staking opens Monday", "staking opens Tuesday (updated)"}
	m, ok := FindInLog("STAKING OPENS", msgs)
	require.True(t, ok)
	require.Equal(t, "staking opens Tuesday (updated)", m)

	_, ok = FindInLog("", msgs)
	require.False(t, ok)
}

func TestFindInLog_MatchesWholeWordsOnly(t *testing.T) {
	msgs := []string{"This week: staking rewards are doubled", "Withdrawals resume at noon"}

	_, ok := FindInLog("hi", msgs)
	require.False(t, ok, "short queries never match")

	_, ok = FindInLog("stak", msgs)
	require.False(t, ok, "a word prefix is not a match")

	_, ok = FindInLog("draw", msgs)
	require.False(t, ok, "a word fragment is not a match")

	m, ok := FindInLog("week: staking", msgs)
	require.True(t, ok)
	require.Equal(t, msgs[0], m)

	m, ok = FindInLog("noon", msgs)
	require.True(t, ok)
	require.Equal(t, msgs[1], m)
}

func TestResolve_ShortGreetingReachesCasualDespiteLogHit(t *testing.T) {
	eval := &fakeEval{casual: true}
	p, st, _ := newPipeline(t, eval)
	_, err := st.AppendMessage("This release ships the new staking page")
	require.NoError(t, err)

	r := resolve(p, "hi")
	require.Equal(t, SourceCasual, r.Source)
}
