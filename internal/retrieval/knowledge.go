package retrieval

import (
	"errors"
	"log"
	"os"
	"strings"
)

// KnowledgeBase is the static product documentation. Files are re-read on
// every call so edits apply without a restart.
type KnowledgeBase struct {
	paths []string
}

func NewKnowledgeBase(paths ...string) *KnowledgeBase {
	return &KnowledgeBase{paths: paths}
}

// Text concatenates all readable files. Missing files are skipped.
func (k *KnowledgeBase) Text() string {
	var parts []string
	for _, p := range k.paths {
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				log.Printf("⚠️ Failed to read knowledge file %s: %v", p, err)
			}
			continue
		}
		parts = append(parts, string(data))
	}
	return strings.Join(parts, "\n\n")
}
