package decision

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"strings"
)

// Chunker token budgets, tokens being whitespace separated words
const (
	SoftTokens    = 600
	HardTokens    = 850
	OverlapTokens = 50
)

// Head identifies a decision inside every chunk anchor
type Head struct {
	Court   string
	Chamber string
	ENo     string
	KNo     string
	BNo     string
	Date    string
}

// Anchor renders [KAYNAK:..|DAİRE:..|E:..|K:..|B:..|T:..] leaving out empty parts
func (h Head) Anchor() string {
	chamber := h.Chamber
	if chamber == "" {
		chamber = "BİLİNMİYOR"
	}
	date := h.Date
	if date == "" {
		date = "unknown"
	}
	parts := make([]string, 0, 6)
	for _, p := range [][2]string{
		{"KAYNAK", h.Court}, {"DAİRE", chamber}, {"E", h.ENo}, {"K", h.KNo}, {"B", h.BNo}, {"T", date},
	} {
		if p[1] != "" {
			parts = append(parts, p[0]+":"+p[1])
		}
	}
	return "[" + strings.Join(parts, "|") + "]"
}

// Piece is one chunk body ready to be stored
type Piece struct {
	Section     string
	ParagraphNo string
	Content     string
	ContentHash string
	Tokens      int
}

// Chunker packs section paragraphs into pieces of roughly Soft tokens,
// never above Hard, carrying Overlap trailing tokens into the next piece
type Chunker struct {
	Soft    int
	Hard    int
	Overlap int
}

// DefaultChunker uses the package budgets
func DefaultChunker() Chunker {
	return Chunker{Soft: SoftTokens, Hard: HardTokens, Overlap: OverlapTokens}
}

// Tokens approximates the token count as the word count, at least 1
func Tokens(s string) int { return max(1, len(strings.Fields(s))) }

// Hash is the hex sha1 of content
func Hash(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Split chunks text under the anchor of h; empty text gives no pieces
func (c Chunker) Split(h Head, text string) []Piece {
	c = c.withDefaults()
	anchor := h.Anchor()
	var out []Piece
	for _, sec := range SplitSections(text) {
		out = append(out, c.section(anchor, sec)...)
	}
	return out
}

func (c Chunker) withDefaults() Chunker {
	d := DefaultChunker()
	if c.Soft <= 0 {
		c.Soft = d.Soft
	}
	if c.Hard < c.Soft {
		c.Hard = max(d.Hard, c.Soft)
	}
	if c.Overlap < 0 || c.Overlap >= c.Soft {
		c.Overlap = 0
	}
	return c
}

func (c Chunker) section(anchor string, sec Section) []Piece {
	var (
		out   []Piece
		buf   []string
		total int
		fresh bool
		idx   = 1
	)
	emit := func() {
		body := strings.Join(buf, "\n")
		content := anchor + "\n[" + sec.Title + "]\n" + body
		out = append(out, Piece{
			Section:     sec.Title,
			ParagraphNo: sec.Title + ":" + strconv.Itoa(idx),
			Content:     content,
			ContentHash: Hash(content),
			Tokens:      Tokens(content),
		})
		idx++
		buf = nil
		total = 0
		fresh = false
		if tail := lastWords(body, c.Overlap); tail != "" {
			buf = []string{tail}
			total = Tokens(tail)
		}
	}
	for _, para := range c.fit(sec.Paragraphs) {
		t := Tokens(para)
		if fresh && total+t > c.Hard {
			emit()
		}
		buf = append(buf, para)
		total += t
		fresh = true
		if total >= c.Soft {
			emit()
		}
	}
	if fresh {
		emit()
	}
	return out
}

// fit splits paragraphs longer than Soft into Soft sized word runs
func (c Chunker) fit(paras []string) []string {
	out := make([]string, 0, len(paras))
	for _, p := range paras {
		words := strings.Fields(p)
		if len(words) <= c.Soft {
			out = append(out, p)
			continue
		}
		for len(words) > 0 {
			n := min(c.Soft, len(words))
			out = append(out, strings.Join(words[:n], " "))
			words = words[n:]
		}
	}
	return out
}

func lastWords(s string, n int) string {
	if n <= 0 {
		return ""
	}
	words := strings.Fields(s)
	if len(words) > n {
		words = words[len(words)-n:]
	}
	return strings.Join(words, " ")
}
