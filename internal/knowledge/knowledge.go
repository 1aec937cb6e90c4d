// ABOUTME: File-backed knowledge base with keyword relevance search
// ABOUTME: Loads markdown/text documents, splits them into paragraph chunks, and scores against queries

package knowledge

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Snippet is a search hit: one paragraph from one document.
type Snippet struct {
	Source string  `json:"source"`
	Title  string  `json:"title,omitempty"`
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
}

// chunk is one indexed paragraph with precomputed lowercase text for scoring.
type chunk struct {
	source     string
	title      string
	text       string
	titleLower string
	textLower  string
}

// Base holds the indexed knowledge documents. Reload swaps the index
// atomically, so a reload never disturbs in-flight searches.
type Base struct {
	dir    string
	logger *slog.Logger

	mu     sync.RWMutex
	chunks []chunk
}

// Load builds a knowledge base from the .md and .txt files in dir. An empty
// dir disables the base; a missing directory is tolerated with a warning so
// a fresh install works before any documents exist.
func Load(dir string, logger *slog.Logger) (*Base, error) {
	b := &Base{
		dir:    dir,
		logger: logger.With("component", "knowledge"),
	}
	if err := b.Reload(); err != nil {
		return nil, err
	}
	return b, nil
}

// Reload re-reads the document directory and swaps in the new index.
func (b *Base) Reload() error {
	if b.dir == "" {
		return nil
	}

	entries, err := os.ReadDir(b.dir)
	if errors.Is(err, fs.ErrNotExist) {
		b.logger.Warn("knowledge directory does not exist", "dir", b.dir)
		b.mu.Lock()
		b.chunks = nil
		b.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading knowledge directory: %w", err)
	}

	var chunks []chunk
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := filepath.Ext(name)
		if ext != ".md" && ext != ".txt" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(b.dir, name))
		if err != nil {
			return fmt.Errorf("reading %s: %w", name, err)
		}
		chunks = append(chunks, splitDocument(name, string(data))...)
	}

	b.mu.Lock()
	b.chunks = chunks
	b.mu.Unlock()

	b.logger.Info("knowledge base loaded", "dir", b.dir, "chunks", len(chunks))
	return nil
}

// splitDocument breaks a document into paragraph chunks. Markdown headings
// become the title of the chunks that follow them.
func splitDocument(source, content string) []chunk {
	var chunks []chunk
	var title string

	paragraphs := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n\n")
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if strings.HasPrefix(p, "#") {
			// A heading-only paragraph names what follows.
			lines := strings.SplitN(p, "\n", 2)
			title = strings.TrimSpace(strings.TrimLeft(lines[0], "# "))
			if len(lines) == 1 {
				continue
			}
			p = strings.TrimSpace(lines[1])
			if p == "" {
				continue
			}
		}
		chunks = append(chunks, chunk{
			source:     source,
			title:      title,
			text:       p,
			titleLower: strings.ToLower(title),
			textLower:  strings.ToLower(p),
		})
	}
	return chunks
}

// Search returns the most relevant snippets for a free-text query, best
// first. Chunks that match no query term are omitted entirely.
func (b *Base) Search(query string, limit int) []Snippet {
	if limit <= 0 {
		limit = 3
	}
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	type scored struct {
		idx   int
		score float64
	}
	var matches []scored
	for i, c := range b.chunks {
		if s := relevance(terms, c); s > 0 {
			matches = append(matches, scored{idx: i, score: s})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}

	snippets := make([]Snippet, len(matches))
	for i, m := range matches {
		c := b.chunks[m.idx]
		snippets[i] = Snippet{
			Source: c.source,
			Title:  c.title,
			Text:   c.text,
			Score:  m.score,
		}
	}
	return snippets
}

// relevance computes a normalized keyword score for a chunk. Title matches
// weigh 3.0, body matches 2.0.
func relevance(terms []string, c chunk) float64 {
	var score float64
	var maxScore float64

	for _, term := range terms {
		maxScore += 3.0
		if c.titleLower != "" && strings.Contains(c.titleLower, term) {
			score += 3.0
		}
	}
	for _, term := range terms {
		maxScore += 2.0
		if strings.Contains(c.textLower, term) {
			score += 2.0
		}
	}

	if maxScore == 0 {
		return 0
	}
	return score / maxScore
}

// Len reports how many chunks are indexed.
func (b *Base) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.chunks)
}
