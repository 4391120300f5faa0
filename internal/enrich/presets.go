package enrich

import (
	"encoding/json"
	"strings"

	"github.com/MimeLyc/live-sub-enricher/internal/subtitle"
)

const (
	TranslationQuotaThreshold = 0.8
	InsightQuotaThreshold     = 0.5
)

// Sampling per service. Translations are short and literal; insight answers
// carry a JSON object with a word list.
const (
	translationTemperature = 0.2
	translationMaxTokens   = 256
	insightTemperature     = 0.4
	insightMaxTokens       = 1024
)

const translationInstructions = `You are a subtitle translator. Translate each caption line from {source} to {target}.
Return only the translated line. Keep it short enough to read on screen.`

const insightInstructions = `You are a language tutor for a {target} speaker learning {source}.
For each caption line, explain the grammar that a learner would find notable.
Respond with a single JSON object and nothing else:
{"insight": "<grammar explanation in {target}>", "literal": "<word-for-word translation>", "words": [{"surface": "<word>", "reading": "<pronunciation>", "meaning": "<meaning in {target}>"}]}`

// TranslationConfig is the translator service preset.
func TranslationConfig() Config {
	return Config{
		Kind:           KindTranslation,
		QuotaThreshold: TranslationQuotaThreshold,
		Instructions:   translationInstructions,
		Temperature:    translationTemperature,
		MaxTokens:      translationMaxTokens,
	}
}

// InsightConfig is the grammar-insight service preset. Insight prompts are
// larger, so the working session rotates earlier.
func InsightConfig() Config {
	return Config{
		Kind:           KindInsight,
		QuotaThreshold: InsightQuotaThreshold,
		Instructions:   insightInstructions,
		Temperature:    insightTemperature,
		MaxTokens:      insightMaxTokens,
	}
}

type insightPayload struct {
	Insight string          `json:"insight"`
	Literal string          `json:"literal"`
	Words   []subtitle.Word `json:"words"`
}

// ParseInsight decodes an insight response. Responses that are not the
// expected JSON object are kept as plain insight text.
func ParseInsight(raw string) subtitle.Enrichment {
	text := strings.TrimSpace(raw)
	body := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(text, "```json"), "```"), "```"))

	if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start >= 0 && end > start {
		var payload insightPayload
		if err := json.Unmarshal([]byte(body[start:end+1]), &payload); err == nil && payload.Insight != "" {
			return subtitle.Enrichment{
				Insight:            strings.TrimSpace(payload.Insight),
				LiteralTranslation: strings.TrimSpace(payload.Literal),
				Words:              payload.Words,
			}
		}
	}
	return subtitle.Enrichment{Insight: text}
}

// ParseTranslation trims a translation response.
func ParseTranslation(raw string) subtitle.Enrichment {
	return subtitle.Enrichment{Translation: strings.TrimSpace(raw)}
}
