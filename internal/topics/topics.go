package topics

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"video-insights-go/internal/types"
)

// ChatService is the text-in/text-out completion call this package consumes.
type ChatService interface {
	Complete(ctx context.Context, model, prompt string) (string, error)
}

// Extractor sends the full segment list to one topic-extraction call and
// normalizes the provider's loosely-shaped answer into Topic records.
type Extractor struct {
	chat         ChatService
	topicsModel  string
	summaryModel string
	log          *logrus.Entry
}

func NewExtractor(chat ChatService, topicsModel, summaryModel string, log *logrus.Entry) *Extractor {
	return &Extractor{
		chat:         chat,
		topicsModel:  topicsModel,
		summaryModel: summaryModel,
		log:          log.WithField("component", "topics"),
	}
}

// BuildPrompt renders the strict-JSON topic extraction prompt.
func BuildPrompt(segments []types.Segment) string {
	var sb strings.Builder
	for _, s := range segments {
		fmt.Fprintf(&sb, "[%s] %s\n", s.SegmentID, strings.TrimSpace(s.Text))
	}

	prompt := `You are a topic extraction engine for video transcripts.

Analyze the transcript segments below and identify between 2 and 8 coherent topics,
in order of first appearance. A segment may support more than one topic.

Return ONLY a JSON array (no commentary, no markdown fences) where each element is:
{
  "label": "",
  "description": "",
  "summary": "",
  "segment_ids": []
}

Rules:
- label: a short topic name (2-6 words)
- description: one sentence on what the topic covers
- summary: 2-3 sentences summarizing what was said about it
- segment_ids: the ids of the segments that belong to the topic, e.g. ["seg_001"]
- Ground everything in the transcript. Do NOT invent topics.

TRANSCRIPT SEGMENTS:
%s
Return ONLY valid JSON.
`
	return fmt.Sprintf(prompt, sb.String())
}

// Extract runs the topic call and normalizes the result. Parse failure is a
// MalformedResponseError, distinct from a generic call failure.
func (e *Extractor) Extract(ctx context.Context, segments []types.Segment) ([]types.Topic, error) {
	if len(segments) == 0 {
		return []types.Topic{}, nil
	}
	content, err := e.chat.Complete(ctx, e.topicsModel, BuildPrompt(segments))
	if err != nil {
		return nil, err
	}
	topics, err := ParseTopics(content)
	if err != nil {
		return nil, err
	}
	e.log.WithField("topics", len(topics)).Info("topics extracted")
	return topics, nil
}

// Summarize produces the overall video summary from the transcript text.
func (e *Extractor) Summarize(ctx context.Context, transcript string) (string, error) {
	prompt := fmt.Sprintf(
		"Summarize the following video transcript in 3-5 sentences. "+
			"Return only the summary text, no preamble.\n\nTRANSCRIPT:\n%s", transcript)
	out, err := e.chat.Complete(ctx, e.summaryModel, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// rawTopic tolerates the field-name drift providers exhibit: bare arrays or
// a wrapping object, and two spellings of the segment-id list whose
// elements may be strings or numbers.
type rawTopic struct {
	Label         string `json:"label"`
	Description   string `json:"description"`
	Summary       string `json:"summary"`
	SegmentIDs    []any  `json:"segment_ids"`
	SegmentIDsAlt []any  `json:"segmentIds"`
}

// ParseTopics decodes provider output into normalized Topic records,
// preserving the returned order exactly.
func ParseTopics(content string) ([]types.Topic, error) {
	raw := ExtractJSON(content)
	if raw == "" {
		return nil, &types.MalformedResponseError{Service: "topic-extraction", Message: "no JSON found in output"}
	}

	var entries []rawTopic
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		// object wrapping an array
		var wrapped struct {
			Topics []rawTopic `json:"topics"`
		}
		if err := json.Unmarshal([]byte(raw), &wrapped); err != nil || wrapped.Topics == nil {
			return nil, &types.MalformedResponseError{
				Service: "topic-extraction",
				Message: fmt.Sprintf("unexpected shape: %s", snippet(raw)),
			}
		}
		entries = wrapped.Topics
	}

	out := make([]types.Topic, 0, len(entries))
	for i, t := range entries {
		label := strings.TrimSpace(t.Label)
		if label == "" {
			label = "Untitled topic"
		}
		ids := t.SegmentIDs
		if len(ids) == 0 {
			ids = t.SegmentIDsAlt
		}
		out = append(out, types.Topic{
			TopicID:     types.TopicID(i + 1),
			Label:       label,
			Description: strings.TrimSpace(t.Description),
			Summary:     strings.TrimSpace(t.Summary),
			SegmentIDs:  coerceSegmentIDs(ids),
		})
	}
	return out, nil
}

// coerceSegmentIDs accepts string or numeric elements; numbers are treated
// as 1-based segment ordinals.
func coerceSegmentIDs(ids []any) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		switch v := id.(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				out = append(out, s)
			}
		case float64:
			out = append(out, types.SegmentID(int(v)))
		case json.Number:
			if n, err := strconv.Atoi(v.String()); err == nil {
				out = append(out, types.SegmentID(n))
			}
		}
	}
	return out
}

// ExtractJSON finds the first balanced JSON value in a string, stripping
// the markdown fences LLMs commonly wrap output in.
func ExtractJSON(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	for _, fence := range []string{"```json", "```yaml", "```text", "```", "`json", "`"} {
		s = strings.ReplaceAll(s, fence, "")
	}

	start := strings.IndexAny(s, "[{")
	if start == -1 {
		return ""
	}
	open := s[start]
	var closer byte = '}'
	if open == '[' {
		closer = ']'
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func snippet(s string) string {
	const limit = 200
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
