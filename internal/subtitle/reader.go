package subtitle

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
)

var srtTimeRe = regexp.MustCompile(`(\d{2}):(\d{2}):(\d{2})[,.](\d{3}) --> (\d{2}):(\d{2}):(\d{2})[,.](\d{3})`)

// SRTReader decodes SubRip captions.
type SRTReader struct{}

// JSON3Reader decodes YouTube json3 caption tracks.
type JSON3Reader struct{}

// NewReader picks a reader by file extension.
func NewReader(path string) (Reader, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".srt":
		return SRTReader{}, nil
	case ".json", ".json3":
		return JSON3Reader{}, nil
	default:
		return nil, fmt.Errorf("unsupported caption format: %s", path)
	}
}

// ReadFile opens path and decodes it with the matching reader.
func ReadFile(path string) (*Track, error) {
	reader, err := NewReader(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open caption file: %w", err)
	}
	defer f.Close()
	return reader.Read(f)
}

// ReadBytes decodes data, sniffing json3 by its leading brace.
func ReadBytes(data []byte) (*Track, error) {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		return JSON3Reader{}.Read(bytes.NewReader(data))
	}
	return SRTReader{}.Read(bytes.NewReader(data))
}

func (SRTReader) Read(r io.Reader) (*Track, error) {
	var segments []Segment
	scanner := bufio.NewScanner(r)

	current := Segment{}
	state := "index" // index, time, text
	var textLines []string

	flush := func() {
		if len(textLines) > 0 {
			current.Text = strings.Join(textLines, "\n")
			segments = append(segments, current)
		}
		current = Segment{}
		textLines = nil
	}

	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))

		switch state {
		case "index":
			if line == "" {
				continue
			}
			if _, err := strconv.Atoi(line); err != nil {
				continue // skip non-index lines
			}
			state = "time"

		case "time":
			if line == "" {
				continue
			}
			start, end, err := parseSRTTime(line)
			if err != nil {
				return nil, fmt.Errorf("failed to parse time: %w", err)
			}
			current.Start = start
			current.End = end
			state = "text"

		case "text":
			if line == "" {
				flush()
				state = "index"
				continue
			}
			textLines = append(textLines, line)
		}
	}
	if state == "text" {
		flush()
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read caption file: %w", err)
	}

	sortByStart(segments)
	return &Track{
		Segments: segments,
		Language: DetectLanguage(segments),
		Format:   "SRT",
	}, nil
}

// parseSRTTime parses "00:02:16,612 --> 00:02:19,376" into milliseconds.
func parseSRTTime(s string) (int64, int64, error) {
	m := srtTimeRe.FindStringSubmatch(s)
	if len(m) != 9 {
		return 0, 0, fmt.Errorf("invalid time format: %s", s)
	}
	toMs := func(h, min, sec, ms string) int64 {
		hh, _ := strconv.ParseInt(h, 10, 64)
		mm, _ := strconv.ParseInt(min, 10, 64)
		ss, _ := strconv.ParseInt(sec, 10, 64)
		mss, _ := strconv.ParseInt(ms, 10, 64)
		return ((hh*60+mm)*60+ss)*1000 + mss
	}
	return toMs(m[1], m[2], m[3], m[4]), toMs(m[5], m[6], m[7], m[8]), nil
}

type json3Track struct {
	Events []json3Event `json:"events"`
}

type json3Event struct {
	TStartMs    *int64     `json:"tStartMs,omitempty"`
	DDurationMs *int64     `json:"dDurationMs,omitempty"`
	Segs        []json3Seg `json:"segs,omitempty"`
}

type json3Seg struct {
	UTF8 string `json:"utf8"`
}

func (JSON3Reader) Read(r io.Reader) (*Track, error) {
	var raw json3Track
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid json3 captions: %w", err)
	}

	segments := make([]Segment, 0, len(raw.Events))
	for _, ev := range raw.Events {
		if ev.TStartMs == nil || ev.DDurationMs == nil || len(ev.Segs) == 0 {
			continue
		}
		var sb strings.Builder
		for _, seg := range ev.Segs {
			sb.WriteString(seg.UTF8)
		}
		text := strings.TrimSpace(strings.ReplaceAll(sb.String(), "\n", " "))
		if text == "" {
			continue
		}
		segments = append(segments, Segment{
			Start: *ev.TStartMs,
			End:   *ev.TStartMs + *ev.DDurationMs,
			Text:  text,
		})
	}

	sortByStart(segments)
	return &Track{
		Segments: segments,
		Language: DetectLanguage(segments),
		Format:   "JSON3",
	}, nil
}

// DetectLanguage returns the most frequent language among segment texts.
func DetectLanguage(segments []Segment) language.Tag {
	if len(segments) == 0 {
		return language.Und
	}

	counts := make(map[string]int)
	for _, s := range segments {
		counts[whatlanggo.DetectLang(s.Text).Iso6391()]++
	}

	var top string
	var topCount int
	for lang, count := range counts {
		if lang == "" {
			continue
		}
		if count > topCount || (count == topCount && lang < top) {
			top = lang
			topCount = count
		}
	}
	if top == "" {
		return language.Und
	}

	tag, err := language.Parse(top)
	if err != nil {
		return language.Und
	}
	return tag
}
