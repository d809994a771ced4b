package retrieval

import "strings"

// Category is a topic label used to boost relevance and diversify results.
type Category string

const (
	CoreBank      Category = "core_bank"
	CustomBank    Category = "custom_bank"
	Market        Category = "market"
	Features      Category = "features"
	Assets        Category = "assets"
	Announcements Category = "announcements"
	General       Category = "general"

	// Exact labels a memory passage found through a known topic. It is never
	// produced by Categorize.
	Exact Category = "exact"
)

// AllCategories returns the closed category set in declaration order.
func AllCategories() []Category {
	return []Category{CoreBank, CustomBank, Market, Features, Assets, Announcements, General}
}

// ParseCategory maps a label to a Category, case-insensitively.
func ParseCategory(s string) (Category, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, c := range AllCategories() {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

type CategoryKeywords struct {
	Category Category
	Keywords []string
}

// Topic is a memory-search subject. Aggregate topics return every matching
// message joined together instead of only the newest one.
type Topic struct {
	Name      string
	Keywords  []string
	Aggregate bool
}

// Config is built once at startup and shared read-only by the retriever.
type Config struct {
	// Categories in declaration order; first match wins for single-category
	// assignment. General needs no entry.
	Categories []CategoryKeywords
	Topics     []Topic
	Slang      map[string]string

	MaxResults         int
	MinScore           float64
	CategoryBoost      float64
	MemoryMinOverlap   float64
	AggregateSeparator string
}

func DefaultConfig() Config {
	return Config{
		Categories: []CategoryKeywords{
			{Category: CoreBank, Keywords: []string{"core bank", "core banks", "main bank", "protocol bank"}},
			{Category: CustomBank, Keywords: []string{"custom bank", "custom banks", "create a bank", "own bank", "launch a bank"}},
			{Category: Market, Keywords: []string{"market", "price", "trading", "trade", "liquidity", "swap", "volume"}},
			{Category: Features, Keywords: []string{"feature", "staking", "stake", "lending", "borrow", "yield", "wallet", "dashboard"}},
			{Category: Assets, Keywords: []string{"token", "asset", "coin", "collateral", "deposit", "withdraw", "funds"}},
			{Category: Announcements, Keywords: []string{"announcement", "announce", "airdrop", "launch", "mainnet", "update", "release", "news"}},
		},
		Topics: []Topic{
			{Name: "airdrop", Keywords: []string{"airdrop", "air drop"}, Aggregate: true},
			{Name: "launch", Keywords: []string{"mainnet", "launch", "go live", "release date"}},
			{Name: "staking", Keywords: []string{"staking", "stake", "apy", "apr"}},
			{Name: "listing", Keywords: []string{"listing", "listed", "exchange"}},
		},
		Slang: map[string]string{
			"wen":  "when",
			"gm":   "good morning",
			"gn":   "good night",
			"ser":  "sir",
			"pls":  "please",
			"plz":  "please",
			"u":    "you",
			"ur":   "your",
			"r":    "are",
			"thx":  "thanks",
			"ty":   "thank you",
			"abt":  "about",
			"rn":   "right now",
			"tmrw": "tomorrow",
			"ppl":  "people",
			"smth": "something",
			"wat":  "what",
			"hw":   "how",
		},
		MaxResults:         5,
		MinScore:           0.2,
		CategoryBoost:      0.2,
		MemoryMinOverlap:   0.5,
		AggregateSeparator: "\n---\n",
	}
}

// withDefaults fills zero numeric fields from DefaultConfig and lowercases
// every keyword table so matching is case-insensitive.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxResults <= 0 {
		c.MaxResults = def.MaxResults
	}
	if c.MinScore <= 0 {
		c.MinScore = def.MinScore
	}
	if c.CategoryBoost <= 0 {
		c.CategoryBoost = def.CategoryBoost
	}
	if c.MemoryMinOverlap <= 0 {
		c.MemoryMinOverlap = def.MemoryMinOverlap
	}
	if c.AggregateSeparator == "" {
		c.AggregateSeparator = def.AggregateSeparator
	}

	cats := make([]CategoryKeywords, 0, len(c.Categories))
	for _, ck := range c.Categories {
		if ck.Category == General {
			continue
		}
		cats = append(cats, CategoryKeywords{Category: ck.Category, Keywords: lowerAll(ck.Keywords)})
	}
	c.Categories = cats

	topics := make([]Topic, 0, len(c.Topics))
	for _, tp := range c.Topics {
		topics = append(topics, Topic{Name: tp.Name, Keywords: lowerAll(tp.Keywords), Aggregate: tp.Aggregate})
	}
	c.Topics = topics

	slang := make(map[string]string, len(c.Slang))
	for k, v := range c.Slang {
		slang[strings.ToLower(k)] = v
	}
	c.Slang = slang
	return c
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
