package profile

import (
	_ "embed"
	"errors"
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"support-bot/internal/evaluator"
	"support-bot/internal/resolver"
	"support-bot/internal/retrieval"
)

//go:embed default_profile.yaml
var defaultProfile []byte

type Persona struct {
	Name            string   `yaml:"name"`
	Role            string   `yaml:"role"`
	Goal            string   `yaml:"goal"`
	SensitiveTopics []string `yaml:"sensitive_topics"`
}

type Policy struct {
	HighConfidence   float64 `yaml:"high_confidence"`
	CaveatConfidence float64 `yaml:"caveat_confidence"`
}

type Retrieval struct {
	MaxResults       int     `yaml:"max_results"`
	MinScore         float64 `yaml:"min_score"`
	CategoryBoost    float64 `yaml:"category_boost"`
	MemoryMinOverlap float64 `yaml:"memory_min_overlap"`
}

type Category struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

type Topic struct {
	Name      string   `yaml:"name"`
	Keywords  []string `yaml:"keywords"`
	Aggregate bool     `yaml:"aggregate"`
}

// Profile is the deployment-specific part of the bot: who it speaks as and
// which vocabulary it recognizes.
type Profile struct {
	Persona    Persona           `yaml:"persona"`
	Policy     Policy            `yaml:"policy"`
	Retrieval  Retrieval         `yaml:"retrieval"`
	Categories []Category        `yaml:"categories"`
	Topics     []Topic           `yaml:"topics"`
	Slang      map[string]string `yaml:"slang"`
}

func Default() (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(defaultProfile, &p); err != nil {
		return nil, fmt.Errorf("parsing embedded profile: %w", err)
	}
	return &p, nil
}

// Load reads the profile at path on top of the embedded default. A missing
// file yields the default profile.
func Load(path string) (*Profile, error) {
	p, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("ℹ️ Profile %s not found, using built-in profile", path)
			return p, nil
		}
		return nil, fmt.Errorf("reading profile: %w", err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parsing profile %s: %w", path, err)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return p, nil
}

func (p *Profile) validate() error {
	pol := p.ResolverPolicy(0)
	if pol.CaveatConfidence < 0 || pol.HighConfidence > 1 || pol.CaveatConfidence > pol.HighConfidence {
		return fmt.Errorf("policy thresholds must satisfy 0 <= caveat (%v) <= high (%v) <= 1",
			pol.CaveatConfidence, pol.HighConfidence)
	}
	for i, c := range p.Categories {
		cat, ok := retrieval.ParseCategory(c.Name)
		if !ok {
			return fmt.Errorf("category %d: unknown name %q", i, c.Name)
		}
		if cat == retrieval.General {
			return fmt.Errorf("category %q takes no keywords", c.Name)
		}
	}
	for i, t := range p.Topics {
		if t.Name == "" || len(t.Keywords) == 0 {
			return fmt.Errorf("topic %d: name and keywords are required", i)
		}
	}
	return nil
}

// RetrievalConfig builds the retriever configuration. Empty tables keep the
// built-in defaults.
func (p *Profile) RetrievalConfig() retrieval.Config {
	cfg := retrieval.DefaultConfig()
	if p.Retrieval.MaxResults > 0 {
		cfg.MaxResults = p.Retrieval.MaxResults
	}
	if p.Retrieval.MinScore > 0 {
		cfg.MinScore = p.Retrieval.MinScore
	}
	if p.Retrieval.CategoryBoost > 0 {
		cfg.CategoryBoost = p.Retrieval.CategoryBoost
	}
	if p.Retrieval.MemoryMinOverlap > 0 {
		cfg.MemoryMinOverlap = p.Retrieval.MemoryMinOverlap
	}
	if len(p.Categories) > 0 {
		cfg.Categories = cfg.Categories[:0:0]
		for _, c := range p.Categories {
			cat, _ := retrieval.ParseCategory(c.Name)
			cfg.Categories = append(cfg.Categories, retrieval.CategoryKeywords{Category: cat, Keywords: c.Keywords})
		}
	}
	if len(p.Topics) > 0 {
		cfg.Topics = make([]retrieval.Topic, 0, len(p.Topics))
		for _, t := range p.Topics {
			cfg.Topics = append(cfg.Topics, retrieval.Topic{Name: t.Name, Keywords: t.Keywords, Aggregate: t.Aggregate})
		}
	}
	if len(p.Slang) > 0 {
		cfg.Slang = p.Slang
	}
	return cfg
}

func (p *Profile) EvaluatorPersona() evaluator.Persona {
	def := evaluator.DefaultPersona()
	persona := evaluator.Persona{
		Name:            p.Persona.Name,
		Role:            p.Persona.Role,
		Goal:            p.Persona.Goal,
		SensitiveTopics: p.Persona.SensitiveTopics,
	}
	if persona.Name == "" {
		persona.Name = def.Name
	}
	if persona.Role == "" {
		persona.Role = def.Role
	}
	if persona.Goal == "" {
		persona.Goal = def.Goal
	}
	if len(persona.SensitiveTopics) == 0 {
		persona.SensitiveTopics = def.SensitiveTopics
	}
	return persona
}

// ResolverPolicy returns the live answer thresholds; cacheMin comes from the
// environment configuration.
func (p *Profile) ResolverPolicy(cacheMin float64) resolver.Policy {
	pol := resolver.DefaultPolicy()
	if p.Policy.HighConfidence > 0 {
		pol.HighConfidence = p.Policy.HighConfidence
	}
	if p.Policy.CaveatConfidence > 0 {
		pol.CaveatConfidence = p.Policy.CaveatConfidence
	}
	if cacheMin > 0 {
		pol.CacheMinConfidence = cacheMin
	}
	return pol
}
