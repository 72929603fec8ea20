// Package chunker splits extracted document text into ordered, bounded,
// overlapping chunks. Splitting is measured in tokens, prefers paragraph and
// sentence boundaries, and is deterministic: re-processing the same input
// yields the same chunks in the same order, which keeps the embedding cache
// effective across re-uploads.
package chunker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

var (
	// ErrSizeLimitExceeded is returned when a document would produce more
	// than MaxChunks chunks. The document is rejected before any chunk is
	// handed to the pipeline; nothing is silently truncated.
	ErrSizeLimitExceeded = errors.New("document exceeds chunk limit")

	// ErrInvalidConfig indicates invalid chunker configuration.
	ErrInvalidConfig = errors.New("invalid chunker configuration")
)

// Tokenizer counts tokens in a piece of text. The default implementation
// wraps tiktoken; tests may substitute a cheaper counter.
type Tokenizer interface {
	Count(text string) int
}

// Config holds chunker configuration.
type Config struct {
	// TargetTokens is the token budget per chunk. Default: 768. Valid: 512-1024.
	TargetTokens int

	// OverlapTokens is the token overlap carried between consecutive chunks.
	// Default: 75. Valid: 50-100, strictly less than TargetTokens.
	OverlapTokens int

	// MaxChunks is the hard cap on chunks per document. Default: 1000.
	MaxChunks int

	// Encoding is the tiktoken encoding name. Default: "cl100k_base".
	Encoding string
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.TargetTokens == 0 {
		c.TargetTokens = 768
	}
	if c.OverlapTokens == 0 {
		c.OverlapTokens = 75
	}
	if c.MaxChunks == 0 {
		c.MaxChunks = 1000
	}
	if c.Encoding == "" {
		c.Encoding = "cl100k_base"
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.TargetTokens < 512 || c.TargetTokens > 1024 {
		return fmt.Errorf("%w: target tokens %d outside 512-1024", ErrInvalidConfig, c.TargetTokens)
	}
	if c.OverlapTokens < 50 || c.OverlapTokens > 100 {
		return fmt.Errorf("%w: overlap tokens %d outside 50-100", ErrInvalidConfig, c.OverlapTokens)
	}
	if c.OverlapTokens >= c.TargetTokens {
		return fmt.Errorf("%w: overlap %d must be less than target %d", ErrInvalidConfig, c.OverlapTokens, c.TargetTokens)
	}
	if c.MaxChunks <= 0 {
		return fmt.Errorf("%w: max chunks must be positive", ErrInvalidConfig)
	}
	return nil
}

// Chunk is one ordered slice of a document's text.
type Chunk struct {
	// Index is the zero-based position of the chunk within the document.
	Index int

	// Content is the chunk text.
	Content string

	// Tokens is the token count of Content under the configured encoding.
	Tokens int
}

// Chunker splits text into token-bounded chunks.
type Chunker struct {
	config    Config
	tokenizer Tokenizer
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithTokenizer overrides the default tiktoken-based tokenizer.
func WithTokenizer(t Tokenizer) Option {
	return func(c *Chunker) {
		c.tokenizer = t
	}
}

// New creates a Chunker. Without WithTokenizer the tiktoken encoding named
// in the config is loaded, which may fetch the BPE vocabulary on first use.
func New(config Config, opts ...Option) (*Chunker, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	c := &Chunker{config: config}
	for _, opt := range opts {
		opt(c)
	}

	if c.tokenizer == nil {
		enc, err := tiktoken.GetEncoding(config.Encoding)
		if err != nil {
			return nil, fmt.Errorf("loading encoding %q: %w", config.Encoding, err)
		}
		c.tokenizer = tiktokenTokenizer{enc: enc}
	}
	return c, nil
}

// Config returns the effective configuration.
func (c *Chunker) Config() Config {
	return c.config
}

// Split chunks text into at most MaxChunks chunks of at most TargetTokens
// tokens each, carrying OverlapTokens of trailing context between
// consecutive chunks. Returns ErrSizeLimitExceeded (and no chunks) when the
// document would exceed the cap.
func (c *Chunker) Split(text string) ([]Chunk, error) {
	segs := c.segments(text)
	if len(segs) == 0 {
		return nil, nil
	}

	var (
		chunks  []Chunk
		current []segment
		tokens  int
		carried int // segments at the head of current carried as overlap
	)

	flush := func() error {
		full := joinSegments(current)
		if strings.TrimSpace(full) == "" {
			current, tokens, carried = nil, 0, 0
			return nil
		}
		if len(chunks) >= c.config.MaxChunks {
			return ErrSizeLimitExceeded
		}
		trimmed := strings.TrimSpace(full)
		chunks = append(chunks, Chunk{
			Index:   len(chunks),
			Content: trimmed,
			Tokens:  tokens,
		})

		// Seed the next chunk with trailing segments up to the overlap budget.
		var tail []segment
		tailTokens := 0
		for i := len(current) - 1; i >= 0; i-- {
			if tailTokens+current[i].tokens > c.config.OverlapTokens {
				break
			}
			tailTokens += current[i].tokens
			tail = append([]segment{current[i]}, tail...)
		}
		current = tail
		tokens = tailTokens
		carried = len(tail)
		return nil
	}

	for _, seg := range segs {
		if strings.TrimSpace(seg.text) == "" {
			continue
		}
		// Segments are pre-split to TargetTokens-OverlapTokens, so any
		// segment fits a fresh chunk next to the carried overlap.
		if tokens+seg.tokens > c.config.TargetTokens && len(current) > carried {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		current = append(current, seg)
		tokens += seg.tokens
	}

	if len(current) > carried {
		if err := flush(); err != nil {
			return nil, err
		}
	}
	return chunks, nil
}

// segment is a boundary-delimited slice of the input with its token count.
type segment struct {
	text   string
	tokens int
}

// segments splits text at paragraph and sentence boundaries and hard-splits
// any single segment that would not fit a chunk alongside the overlap carry.
func (c *Chunker) segments(text string) []segment {
	if text == "" {
		return nil
	}
	maxSeg := c.config.TargetTokens - c.config.OverlapTokens

	var out []segment
	for _, raw := range splitBoundaries(text) {
		n := c.tokenizer.Count(raw)
		if n <= maxSeg {
			out = append(out, segment{text: raw, tokens: n})
			continue
		}
		for _, piece := range c.hardSplit(raw, maxSeg) {
			out = append(out, segment{text: piece, tokens: c.tokenizer.Count(piece)})
		}
	}
	return out
}

// hardSplit cuts text into rune-boundary pieces of at most maxTokens tokens
// each. Used only when no paragraph or sentence boundary fits the budget.
func (c *Chunker) hardSplit(text string, maxTokens int) []string {
	var pieces []string
	runes := []rune(text)
	for len(runes) > 0 {
		// Binary search the largest rune prefix within the token budget.
		lo, hi := 1, len(runes)
		for lo < hi {
			mid := (lo + hi + 1) / 2
			if c.tokenizer.Count(string(runes[:mid])) <= maxTokens {
				lo = mid
			} else {
				hi = mid - 1
			}
		}
		pieces = append(pieces, string(runes[:lo]))
		runes = runes[lo:]
	}
	return pieces
}

// splitBoundaries splits text after paragraph breaks and sentence endings,
// keeping delimiters attached so that the concatenation of all segments
// reproduces the input exactly.
func splitBoundaries(text string) []string {
	var segs []string
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		boundary := false
		switch r {
		case '\n':
			if i+1 < len(runes) && runes[i+1] == '\n' {
				// Consume the full run of newlines as one paragraph break.
				for i+1 < len(runes) && runes[i+1] == '\n' {
					i++
				}
				boundary = true
			}
		case '.', '!', '?':
			if i+1 < len(runes) && (runes[i+1] == ' ' || runes[i+1] == '\n') {
				i++
				boundary = true
			}
		}
		if boundary {
			segs = append(segs, string(runes[start:i+1]))
			start = i + 1
		}
	}
	if start < len(runes) {
		segs = append(segs, string(runes[start:]))
	}
	return segs
}

func joinSegments(segs []segment) string {
	var b strings.Builder
	for _, s := range segs {
		b.WriteString(s.text)
	}
	return b.String()
}

// tiktokenTokenizer counts tokens with a tiktoken BPE encoding.
type tiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

func (t tiktokenTokenizer) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}
