package prefetch

import "time"

const (
	DefaultTranslationWindow = 10
	DefaultInsightWindow     = 5
	DefaultTaskTimeout       = 10 * time.Second
	DefaultJumpThreshold     = 5
)

// Config bounds the look-ahead work of a Scheduler.
type Config struct {
	// TranslationWindow is how many segments from the target are translated.
	TranslationWindow int
	// InsightWindow is clamped to TranslationWindow.
	InsightWindow int
	TaskTimeout   time.Duration
	// JumpThreshold is the target distance treated as a seek.
	JumpThreshold  int
	InsightEnabled bool
}

func DefaultConfig() Config {
	return Config{
		TranslationWindow: DefaultTranslationWindow,
		InsightWindow:     DefaultInsightWindow,
		TaskTimeout:       DefaultTaskTimeout,
		JumpThreshold:     DefaultJumpThreshold,
		InsightEnabled:    true,
	}
}

func (c Config) normalized() Config {
	if c.TranslationWindow <= 0 {
		c.TranslationWindow = DefaultTranslationWindow
	}
	if c.InsightWindow < 0 {
		c.InsightWindow = 0
	}
	if c.InsightWindow > c.TranslationWindow {
		c.InsightWindow = c.TranslationWindow
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = DefaultTaskTimeout
	}
	if c.JumpThreshold < 0 {
		c.JumpThreshold = DefaultJumpThreshold
	}
	return c
}
