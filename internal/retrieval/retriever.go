package retrieval

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// Passage is a scored piece of knowledge-base or memory text.
type Passage struct {
	Text     string
	Score    float64
	Category Category
}

type Retriever struct {
	cfg Config
}

func New(cfg Config) *Retriever {
	return &Retriever{cfg: cfg.withDefaults()}
}

func (r *Retriever) Config() Config { return r.cfg }

// Categorize returns every category whose keywords occur in query, in
// declaration order, or {General} when none do.
func (r *Retriever) Categorize(query string) []Category {
	q := strings.ToLower(query)
	var out []Category
	for _, ck := range r.cfg.Categories {
		if containsAny(q, ck.Keywords) {
			out = append(out, ck.Category)
		}
	}
	if len(out) == 0 {
		return []Category{General}
	}
	return out
}

// CategoryOf returns the first category matching text, or General.
func (r *Retriever) CategoryOf(text string) Category {
	t := strings.ToLower(text)
	for _, ck := range r.cfg.Categories {
		if containsAny(t, ck.Keywords) {
			return ck.Category
		}
	}
	return General
}

var paragraphSep = regexp.MustCompile(`\n\s*\n`)

// Segments splits corpus into non-empty paragraphs.
func Segments(corpus string) []string {
	var out []string
	for _, p := range paragraphSep.Split(corpus, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Search scores every paragraph of corpus against query and selects at most
// MaxResults passages, preferring one per category before backfilling by
// score.
func (r *Retriever) Search(query, corpus string, categories []Category) []Passage {
	qWords := wordSet(query)
	var scored []Passage
	for _, seg := range Segments(corpus) {
		score := r.score(qWords, seg, categories)
		if score <= r.cfg.MinScore {
			continue
		}
		scored = append(scored, Passage{Text: seg, Score: score, Category: r.CategoryOf(seg)})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	return r.selectDiverse(scored)
}

func (r *Retriever) score(qWords map[string]struct{}, segment string, categories []Category) float64 {
	var base float64
	if len(qWords) > 0 {
		sWords := wordSet(segment)
		base = float64(overlap(qWords, sWords)) / float64(len(qWords))
	}
	lower := strings.ToLower(segment)
	seen := make(map[Category]bool, len(categories))
	for _, c := range categories {
		if seen[c] {
			continue
		}
		seen[c] = true
		if containsAny(lower, r.keywords(c)) {
			base += r.cfg.CategoryBoost
		}
	}
	if base > 1.0 {
		base = 1.0
	}
	return base
}

func (r *Retriever) keywords(c Category) []string {
	for _, ck := range r.cfg.Categories {
		if ck.Category == c {
			return ck.Keywords
		}
	}
	return nil
}

// selectDiverse expects passages sorted by descending score.
func (r *Retriever) selectDiverse(sorted []Passage) []Passage {
	limit := r.cfg.MaxResults
	taken := make([]bool, len(sorted))
	seenCat := make(map[Category]bool)
	n := 0
	for i, p := range sorted {
		if n == limit {
			break
		}
		if seenCat[p.Category] {
			continue
		}
		seenCat[p.Category] = true
		taken[i] = true
		n++
	}
	for i := range sorted {
		if n == limit {
			break
		}
		if !taken[i] {
			taken[i] = true
			n++
		}
	}
	out := make([]Passage, 0, n)
	for i, p := range sorted {
		if taken[i] {
			out = append(out, p)
		}
	}
	return out
}

// NormalizeSlang rewrites chat slang tokens ("wen" -> "when") and lowercases
// the query.
func (r *Retriever) NormalizeSlang(query string) string {
	fields := strings.Fields(strings.ToLower(query))
	for i, f := range fields {
		core := strings.TrimFunc(f, isPunct)
		if core == "" {
			continue
		}
		if repl, ok := r.cfg.Slang[core]; ok {
			fields[i] = strings.Replace(f, core, repl, 1)
		}
	}
	return strings.Join(fields, " ")
}

// SearchMemory looks for at most one passage in the ingested messages. A
// query about a known topic returns the newest message mentioning that topic
// (or all of them, joined, for aggregate topics) with score 1. Otherwise the
// best word-overlap match above MemoryMinOverlap is returned.
func (r *Retriever) SearchMemory(query string, messages []string) (Passage, bool) {
	q := r.NormalizeSlang(query)
	if strings.TrimSpace(q) == "" || len(messages) == 0 {
		return Passage{}, false
	}

	if topic, ok := r.matchTopic(q); ok {
		var hits []string
		for i := len(messages) - 1; i >= 0; i-- {
			if containsAny(strings.ToLower(messages[i]), topic.Keywords) {
				hits = append(hits, messages[i])
				if !topic.Aggregate {
					break
				}
			}
		}
		if len(hits) > 0 {
			return Passage{Text: strings.Join(hits, r.cfg.AggregateSeparator), Score: 1.0, Category: Exact}, true
		}
	}

	qWords := wordSet(q)
	if len(qWords) == 0 {
		return Passage{}, false
	}
	var best Passage
	found := false
	for i := len(messages) - 1; i >= 0; i-- {
		score := float64(overlap(qWords, wordSet(messages[i]))) / float64(len(qWords))
		if score > r.cfg.MemoryMinOverlap && score > best.Score {
			best = Passage{Text: messages[i], Score: score, Category: General}
			found = true
		}
	}
	return best, found
}

func (r *Retriever) matchTopic(normalized string) (Topic, bool) {
	for _, t := range r.cfg.Topics {
		if containsAny(normalized, t.Keywords) {
			return t, true
		}
	}
	return Topic{}, false
}

func containsAny(lowerText string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lowerText, kw) {
			return true
		}
	}
	return false
}

func isPunct(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.TrimFunc(w, isPunct)
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return set
}

func overlap(a, b map[string]struct{}) int {
	n := 0
	for w := range a {
		if _, ok := b[w]; ok {
			n++
		}
	}
	return n
}
