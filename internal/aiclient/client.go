package aiclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"video-insights-go/internal/config"
	"video-insights-go/internal/retry"
	"video-insights-go/internal/types"
	"video-insights-go/internal/usage"
)

const captionPrompt = "Describe this video frame in one or two sentences. " +
	"Mention the setting, visible people or objects, and any on-screen text."

// Client talks to the AI gateway. All calls go through the shared rate
// limiter and the retry wrapper, and every billable call is recorded on the
// usage tracker.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	faceURL    string
	models     config.ModelsConfig
	retryCfg   retry.Config
	dims       int
	limiter    *rate.Limiter
	usage      *usage.Tracker
	log        *logrus.Entry
}

func New(cfg *config.Config, tracker *usage.Tracker, log *logrus.Entry) *Client {
	burst := int(cfg.Gateway.RequestsPerSec)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		httpClient: &http.Client{Timeout: time.Duration(cfg.Gateway.TimeoutSec) * time.Second},
		baseURL:    strings.TrimRight(cfg.Gateway.BaseURL, "/"),
		apiKey:     cfg.Gateway.APIKey,
		faceURL:    cfg.Gateway.FaceDetectionURL,
		models:     cfg.Models,
		retryCfg: retry.Config{
			MaxRetries:     cfg.Retry.MaxRetries,
			InitialBackoff: cfg.Retry.InitialBackoff,
			MaxBackoff:     cfg.Retry.MaxBackoff,
		},
		dims:    cfg.Pipeline.EmbeddingDimensions,
		limiter: rate.NewLimiter(rate.Limit(cfg.Gateway.RequestsPerSec), burst),
		usage:   tracker,
		log:     log.WithField("component", "aiclient"),
	}
}

// Transcribe uploads WAV audio and returns the ordered transcript segments.
func (c *Client) Transcribe(ctx context.Context, audio []byte) (*types.Transcription, error) {
	if len(audio) == 0 {
		return nil, types.NewValidationError("transcribe", "empty audio buffer")
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, err
	}
	w.WriteField("model", c.models.Transcription)
	w.WriteField("response_format", "verbose_json")
	if err := w.Close(); err != nil {
		return nil, err
	}

	var parsed struct {
		Text     string  `json:"text"`
		Language string  `json:"language"`
		Duration float64 `json:"duration"`
		Segments []struct {
			ID         int     `json:"id"`
			Start      float64 `json:"start"`
			End        float64 `json:"end"`
			Text       string  `json:"text"`
			AvgLogprob float64 `json:"avg_logprob"`
		} `json:"segments"`
	}
	err = c.post(ctx, "transcription", c.baseURL+"/audio/transcriptions",
		w.FormDataContentType(), body.Bytes(), &parsed)
	if err != nil {
		return nil, err
	}

	tr := &types.Transcription{
		Text:        parsed.Text,
		Language:    parsed.Language,
		DurationSec: parsed.Duration,
	}
	for i, s := range parsed.Segments {
		tr.Segments = append(tr.Segments, types.TranscriptSegment{
			Index:      i,
			StartSec:   s.Start,
			EndSec:     s.End,
			Text:       s.Text,
			AvgLogProb: s.AvgLogprob,
		})
	}
	c.usage.Add(c.models.Transcription, usage.EstimateAudioTokens(audio), usage.EstimateTextTokens(parsed.Text))
	return tr, nil
}

// CaptionImage produces a one-line caption for a JPEG frame.
func (c *Client) CaptionImage(ctx context.Context, image []byte) (string, error) {
	payload := map[string]any{
		"model": c.models.Caption,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": captionPrompt},
					{"type": "image_url", "image_url": map[string]string{
						"url": "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image),
					}},
				},
			},
		},
		"max_tokens":  120,
		"temperature": 0.0,
	}
	content, promptTokens, completionTokens, err := c.chat(ctx, "caption", payload)
	if err != nil {
		return "", err
	}
	if promptTokens == 0 {
		promptTokens = usage.EstimateImageTokens(image) + usage.EstimateTextTokens(captionPrompt)
	}
	if completionTokens == 0 {
		completionTokens = usage.EstimateTextTokens(content)
	}
	c.usage.Add(c.models.Caption, promptTokens, completionTokens)
	return strings.TrimSpace(content), nil
}

// Complete runs one text-only chat call against the named model.
func (c *Client) Complete(ctx context.Context, model, prompt string) (string, error) {
	payload := map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature": 0.0,
	}
	content, promptTokens, completionTokens, err := c.chat(ctx, model, payload)
	if err != nil {
		return "", err
	}
	if promptTokens == 0 {
		promptTokens = usage.EstimateTextTokens(prompt)
	}
	if completionTokens == 0 {
		completionTokens = usage.EstimateTextTokens(content)
	}
	c.usage.Add(model, promptTokens, completionTokens)
	return content, nil
}

func (c *Client) chat(ctx context.Context, service string, payload map[string]any) (string, int, int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", 0, 0, err
	}
	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	err = c.post(ctx, service, c.baseURL+"/chat/completions", "application/json", data, &parsed)
	if err != nil {
		return "", 0, 0, err
	}
	if len(parsed.Choices) == 0 {
		return "", 0, 0, &types.MalformedResponseError{Service: service, Message: "no choices in response"}
	}
	return parsed.Choices[0].Message.Content, parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens, nil
}

// EmbedTexts embeds a batch of texts in one call. Items come back tagged
// with the caller's input index.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([]types.TextEmbedding, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	payload := map[string]any{
		"model": c.models.TextEmbedding,
		"input": texts,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
		Usage struct {
			PromptTokens int `json:"prompt_tokens"`
		} `json:"usage"`
	}
	err = c.post(ctx, "text-embedding", c.baseURL+"/embeddings", "application/json", data, &parsed)
	if err != nil {
		return nil, err
	}
	if len(parsed.Data) != len(texts) {
		return nil, &types.MalformedResponseError{
			Service: "text-embedding",
			Message: fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(parsed.Data)),
		}
	}

	out := make([]types.TextEmbedding, 0, len(parsed.Data))
	for _, d := range parsed.Data {
		if c.dims > 0 && len(d.Embedding) != c.dims {
			return nil, &types.MalformedResponseError{
				Service: "text-embedding",
				Message: fmt.Sprintf("expected %d dimensions, got %d", c.dims, len(d.Embedding)),
			}
		}
		out = append(out, types.TextEmbedding{Index: d.Index, Vector: d.Embedding})
	}

	tokens := parsed.Usage.PromptTokens
	if tokens == 0 {
		for _, t := range texts {
			tokens += usage.EstimateTextTokens(t)
		}
	}
	c.usage.Add(c.models.TextEmbedding, tokens, 0)
	return out, nil
}

// EmbedImage embeds one JPEG image into the shared vector space.
func (c *Client) EmbedImage(ctx context.Context, image []byte) ([]float32, error) {
	payload := map[string]any{
		"model": c.models.ImageEmbedding,
		"image": base64.StdEncoding.EncodeToString(image),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	err = c.post(ctx, "image-embedding", c.baseURL+"/embeddings", "application/json", data, &parsed)
	if err != nil {
		return nil, err
	}
	if len(parsed.Data) == 0 {
		return nil, &types.MalformedResponseError{Service: "image-embedding", Message: "no embedding in response"}
	}
	if c.dims > 0 && len(parsed.Data[0].Embedding) != c.dims {
		return nil, &types.MalformedResponseError{
			Service: "image-embedding",
			Message: fmt.Sprintf("expected %d dimensions, got %d", c.dims, len(parsed.Data[0].Embedding)),
		}
	}
	c.usage.Add(c.models.ImageEmbedding, usage.EstimateImageTokens(image), 0)
	return parsed.Data[0].Embedding, nil
}

// DetectFaces returns normalized bounding boxes plus confidences for one
// frame.
func (c *Client) DetectFaces(ctx context.Context, image []byte) ([]types.DetectedFace, error) {
	if c.faceURL == "" {
		return nil, types.NewValidationError("detect_faces", "face detection URL not configured")
	}
	payload := map[string]any{
		"model": c.models.FaceDetection,
		"image": base64.StdEncoding.EncodeToString(image),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Faces []struct {
			Box        types.NormalizedBox `json:"box"`
			Confidence float64             `json:"confidence"`
		} `json:"faces"`
	}
	if err := c.post(ctx, "face-detection", c.faceURL, "application/json", data, &parsed); err != nil {
		return nil, err
	}
	out := make([]types.DetectedFace, 0, len(parsed.Faces))
	for _, f := range parsed.Faces {
		out = append(out, types.DetectedFace{Box: f.Box, Confidence: f.Confidence})
	}
	c.usage.Add(c.models.FaceDetection, usage.EstimateImageTokens(image), 0)
	return out, nil
}

// post sends one request through the limiter and retry wrapper and decodes
// the JSON response into out.
func (c *Client) post(ctx context.Context, service, url, contentType string, body []byte, out any) error {
	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			// context cancellation during the limiter wait is terminal
			return &types.ServiceError{Service: service, Status: 499, Message: err.Error(), Err: err}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", contentType)
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &types.ServiceError{Service: service, Message: err.Error(), Err: err}
		}
		defer resp.Body.Close()
		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			// a connection dropped mid-body is a transport failure, not a
			// malformed response
			return &types.ServiceError{Service: service, Message: "read response: " + err.Error(), Err: err}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &types.ServiceError{
				Service: service,
				Status:  resp.StatusCode,
				Message: tail(respBody),
			}
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return &types.MalformedResponseError{
				Service: service,
				Message: fmt.Sprintf("json decode: %v, body=%s", err, tail(respBody)),
			}
		}
		return nil
	}
	return retry.Do(ctx, c.log, c.retryCfg, service, op)
}

func tail(body []byte) string {
	const limit = 300
	s := string(body)
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
