package subtitle

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// SRTWriter writes segments as SubRip with the translation under the original
// line when one exists.
type SRTWriter struct {
	// TranslationOnly drops the original text for translated segments.
	TranslationOnly bool
}

func NewWriter() Writer {
	return &SRTWriter{}
}

func (w *SRTWriter) Write(out io.Writer, segments []Segment) error {
	if len(segments) == 0 {
		return fmt.Errorf("no segments to write")
	}

	bw := bufio.NewWriter(out)
	for i, s := range segments {
		fmt.Fprintf(bw, "%d\n", i+1)
		fmt.Fprintf(bw, "%s --> %s\n", formatMs(s.Start), formatMs(s.End))

		lines := make([]string, 0, 2)
		if !w.TranslationOnly || s.Translation == "" {
			lines = append(lines, s.Text)
		}
		if s.Translation != "" {
			lines = append(lines, s.Translation)
		}
		fmt.Fprintf(bw, "%s\n\n", strings.Join(lines, "\n"))
	}
	return bw.Flush()
}

// formatMs formats milliseconds as an SRT timestamp. Negative times clamp to
// zero because SRT cannot express them.
func formatMs(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	hours := ms / 3_600_000
	minutes := ms / 60_000 % 60
	seconds := ms / 1000 % 60
	millis := ms % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, seconds, millis)
}
