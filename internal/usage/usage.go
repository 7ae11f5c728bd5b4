package usage

import (
	"encoding/base64"
	"sort"
	"sync"

	"video-insights-go/internal/types"
)

// pricePerMillionUSD is the static price table, USD per million tokens.
// Models absent from the table accrue tokens but cost nothing.
var pricePerMillionUSD = map[string]float64{
	"whisper-1":      6.00,
	"gpt-4o-mini":    0.60,
	"embed-text-v3":  0.10,
	"embed-image-v3": 0.10,
	"face-detect-v1": 0.50,
}

// imageTokenFloor is the minimum token estimate for any image payload.
const imageTokenFloor = 85

type counts struct {
	input  int
	output int
}

// Tracker is the run-scoped usage ledger. Stages share one instance and
// mutate it concurrently, so every access goes through the mutex.
type Tracker struct {
	mu       sync.Mutex
	perModel map[string]*counts
}

func NewTracker() *Tracker {
	return &Tracker{perModel: map[string]*counts{}}
}

// Add records one billable call against a model.
func (t *Tracker) Add(model string, inputTokens, outputTokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.perModel[model]
	if !ok {
		c = &counts{}
		t.perModel[model] = c
	}
	c.input += inputTokens
	c.output += outputTokens
}

// Snapshot converts the ledger into an immutable UsageStats. Models with
// zero total usage are omitted; output is sorted by model name so repeated
// snapshots of the same ledger are identical.
func (t *Tracker) Snapshot() types.UsageStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := types.UsageStats{}
	for model, c := range t.perModel {
		total := c.input + c.output
		if total == 0 {
			continue
		}
		cost := float64(total) / 1e6 * pricePerMillionUSD[model]
		stats.PerModel = append(stats.PerModel, types.ModelUsage{
			Model:        model,
			InputTokens:  c.input,
			OutputTokens: c.output,
			CostUSD:      cost,
		})
		stats.TotalTokens += total
		stats.TotalCostUSD += cost
	}
	sort.Slice(stats.PerModel, func(i, j int) bool {
		return stats.PerModel[i].Model < stats.PerModel[j].Model
	})
	return stats
}

// EstimateTextTokens approximates token counts from character length when a
// provider does not report them (~4 chars per token, rounded up).
func EstimateTextTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// EstimateImageTokens approximates token counts from the encoded payload
// size, with a floor so tiny images still register.
func EstimateImageTokens(image []byte) int {
	encoded := base64.StdEncoding.EncodedLen(len(image))
	tokens := encoded / 750
	if tokens < imageTokenFloor {
		return imageTokenFloor
	}
	return tokens
}

// EstimateAudioTokens approximates token counts for an uploaded audio
// payload. Same payload-size heuristic as images, without the image floor.
func EstimateAudioTokens(audio []byte) int {
	return base64.StdEncoding.EncodedLen(len(audio)) / 750
}
