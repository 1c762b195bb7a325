// Package triage decides whether a question can be answered immediately by the
// fast responder or has to wait for the deferred responder.
// The policy is a plain keyword gate: any configured keyword found as a
// case-insensitive substring of the raw text routes the question to the
// deferred path.
package triage

import (
	"strings"
	"sync"
)

// Verdict is the outcome of classification.
type Verdict int

const (
	Fast Verdict = iota
	Deferred
)

func (v Verdict) String() string {
	if v == Deferred {
		return "deferred"
	}
	return "fast"
}

// Classifier тримає набір ключових слів, який можна замінити на льоту.
type Classifier struct {
	mu       sync.RWMutex
	keywords []string
}

// NewClassifier creates a classifier with the given keywords.
func NewClassifier(keywords []string) *Classifier {
	c := &Classifier{}
	c.SetKeywords(keywords)
	return c
}

// SetKeywords атомарно замінює набір. Ключові слова переводяться в нижній
// регістр без обрізання пробілів; порожні та дублікати відкидаються.
func (c *Classifier) SetKeywords(keywords []string) {
	normalized := make([]string, 0, len(keywords))
	seen := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		if strings.TrimSpace(k) == "" {
			continue
		}
		k = strings.ToLower(k)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		normalized = append(normalized, k)
	}

	c.mu.Lock()
	c.keywords = normalized
	c.mu.Unlock()
}

// Keywords returns a copy of the active keyword set.
func (c *Classifier) Keywords() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.keywords))
	copy(out, c.keywords)
	return out
}

// Match returns the first keyword contained in text.
func (c *Classifier) Match(text string) (string, bool) {
	lowered := strings.ToLower(text)
	if strings.TrimSpace(lowered) == "" {
		return "", false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, k := range c.keywords {
		if strings.Contains(lowered, k) {
			return k, true
		}
	}
	return "", false
}

// Classify is deterministic for a given keyword set.
func (c *Classifier) Classify(text string) Verdict {
	if _, ok := c.Match(text); ok {
		return Deferred
	}
	return Fast
}
