package subtitle

import (
	"io"

	"golang.org/x/text/language"
)

// Reader decodes a caption track into segments.
type Reader interface {
	Read(r io.Reader) (*Track, error)
}

// Writer encodes an enriched track.
type Writer interface {
	Write(w io.Writer, segments []Segment) error
}

// Word is one entry of a segment's structured word list.
type Word struct {
	Surface string `json:"surface" yaml:"surface"`
	Reading string `json:"reading,omitempty" yaml:"reading,omitempty"`
	Meaning string `json:"meaning,omitempty" yaml:"meaning,omitempty"`
}

// Segment is a time-boxed unit of caption text. Start and End are in
// milliseconds; End is exclusive.
type Segment struct {
	Start int64  `json:"start"`
	End   int64  `json:"end"`
	Text  string `json:"text"`

	Translation        string `json:"translation,omitempty"`
	LiteralTranslation string `json:"literalTranslation,omitempty"`
	Insight            string `json:"insight,omitempty"`
	Words              []Word `json:"segmentedData,omitempty"`
}

// Key identifies a segment independent of its index.
type Key struct {
	Start int64
	End   int64
	Text  string
}

func (s Segment) Key() Key {
	return Key{Start: s.Start, End: s.End, Text: s.Text}
}

func (s Segment) HasTranslation() bool { return s.Translation != "" }

func (s Segment) HasInsight() bool { return s.Insight != "" }

// Enrichment is a partial write-back onto a segment. Empty fields are left
// untouched.
type Enrichment struct {
	Translation        string
	LiteralTranslation string
	Insight            string
	Words              []Word
}

func (e Enrichment) apply(s *Segment) {
	if e.Translation != "" {
		s.Translation = e.Translation
	}
	if e.LiteralTranslation != "" {
		s.LiteralTranslation = e.LiteralTranslation
	}
	if e.Insight != "" {
		s.Insight = e.Insight
	}
	if len(e.Words) > 0 {
		s.Words = append([]Word(nil), e.Words...)
	}
}

// Track is a decoded caption file.
type Track struct {
	Segments []Segment
	Language language.Tag
	Format   string // SRT, JSON3
}
