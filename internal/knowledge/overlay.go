// Package knowledge keeps the persistent context that augments fast
// responder prompts: a list of categorized facts stored as JSON and a
// markdown document organised in "## " sections.
package knowledge

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// InstructionsCategory holds operator instructions for the fast responder.
const InstructionsCategory = "instructions"

var (
	ErrEmptyFact      = errors.New("category and fact must not be empty")
	ErrInvalidSection = errors.New("invalid section name")
)

// Fact is one remembered statement.
type Fact struct {
	Fact  string    `json:"fact"`
	Added time.Time `json:"added"`
	By    string    `json:"by"`
}

// Category groups facts; the file keeps categories in first-appearance order.
type Category struct {
	Name  string `json:"category"`
	Facts []Fact `json:"facts"`
}

// Stats описує поточний стан overlay.
type Stats struct {
	DocumentPresent bool     `json:"document_present"`
	DocumentBytes   int      `json:"document_bytes"`
	FactCount       int      `json:"fact_count"`
	Categories      []string `json:"categories"`
}

// Overlay is inert storage: it never calls a responder itself.
type Overlay struct {
	mu          sync.Mutex
	factsPath   string
	contextPath string
	author      string
	now         func() time.Time
}

// NewOverlay creates an overlay backed by the two files. Missing files are
// treated as empty and created on first write.
func NewOverlay(factsPath, contextPath, author string) *Overlay {
	if author == "" {
		author = "operator"
	}
	return &Overlay{
		factsPath:   factsPath,
		contextPath: contextPath,
		author:      author,
		now:         time.Now,
	}
}

// AddFact додає факт у категорію. Дублікати не відкидаються.
func (o *Overlay) AddFact(category, fact string) error {
	category = strings.TrimSpace(category)
	fact = strings.TrimSpace(fact)
	if category == "" || fact == "" {
		return ErrEmptyFact
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	cats, err := o.loadFacts()
	if err != nil {
		return err
	}

	entry := Fact{Fact: fact, Added: o.now().UTC(), By: o.author}
	found := false
	for i := range cats {
		if cats[i].Name == category {
			cats[i].Facts = append(cats[i].Facts, entry)
			found = true
			break
		}
	}
	if !found {
		cats = append(cats, Category{Name: category, Facts: []Fact{entry}})
	}

	data, err := json.MarshalIndent(cats, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(o.factsPath, data)
}

// AddInstruction records a standing instruction for the fast responder.
func (o *Overlay) AddInstruction(text string) error {
	return o.AddFact(InstructionsCategory, text)
}

// Facts returns all categories in stored order.
func (o *Overlay) Facts() ([]Category, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loadFacts()
}

// RenderContext renders facts as markdown. Output is deterministic:
// categories in first-appearance order, facts in insertion order.
func (o *Overlay) RenderContext() (string, error) {
	cats, err := o.Facts()
	if err != nil {
		return "", err
	}
	return renderFacts(cats), nil
}

func renderFacts(cats []Category) string {
	var b strings.Builder
	for _, c := range cats {
		if len(c.Facts) == 0 {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("## Facts\n")
		}
		fmt.Fprintf(&b, "\n### %s\n", c.Name)
		for _, f := range c.Facts {
			fmt.Fprintf(&b, "- %s\n", f.Fact)
		}
	}
	return b.String()
}

// Document returns the markdown context document, "" when it does not exist.
func (o *Overlay) Document() (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	data, err := readOptional(o.contextPath)
	return string(data), err
}

// UpdateSection replaces the body of the "## name" section of the context
// document or appends a new section when none matches exactly.
func (o *Overlay) UpdateSection(name, content string) error {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, "\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidSection, name)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	doc, err := readOptional(o.contextPath)
	if err != nil {
		return err
	}
	return writeFileAtomic(o.contextPath, upsertSection(doc, name, content))
}

// PromptContext joins the document and the rendered facts into the context
// handed to the fast responder.
func (o *Overlay) PromptContext() (string, error) {
	doc, err := o.Document()
	if err != nil {
		return "", err
	}
	facts, err := o.RenderContext()
	if err != nil {
		return "", err
	}

	parts := make([]string, 0, 2)
	if s := strings.TrimSpace(doc); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(facts); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n\n"), nil
}

// Stats повертає статистику overlay.
func (o *Overlay) Stats() (Stats, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var st Stats
	doc, err := readOptional(o.contextPath)
	if err != nil {
		return st, err
	}
	if doc != nil {
		st.DocumentPresent = true
		st.DocumentBytes = len(doc)
	}

	cats, err := o.loadFacts()
	if err != nil {
		return st, err
	}
	st.Categories = make([]string, 0, len(cats))
	for _, c := range cats {
		st.Categories = append(st.Categories, c.Name)
		st.FactCount += len(c.Facts)
	}
	return st, nil
}

func (o *Overlay) loadFacts() ([]Category, error) {
	data, err := readOptional(o.factsPath)
	if err != nil || len(data) == 0 {
		return nil, err
	}
	var cats []Category
	if err := json.Unmarshal(data, &cats); err != nil {
		return nil, fmt.Errorf("failed to parse facts file %s: %w", o.factsPath, err)
	}
	return cats, nil
}

// readOptional returns nil data for a missing file.
func readOptional(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// writeFileAtomic пише через тимчасовий файл і rename, щоб читач не побачив
// напівзаписаний файл.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
