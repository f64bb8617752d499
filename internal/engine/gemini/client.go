// Package gemini implements the paid transcription and embedding fallback on
// the Gemini API.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/generative-ai-go/genai"
	"github.com/kiranshivaraju/castkeeper/internal/config"
	"github.com/kiranshivaraju/castkeeper/pkg/models"
	"google.golang.org/api/option"
)

// maxBatch is the largest BatchEmbedContents request the API accepts.
const maxBatch = 100

const transcribePrompt = `Transcribe the speech in this audio.
Respond with a JSON array only. Each element is an object with "start" and "end" in seconds from the start of the audio and "text" holding the words spoken.`

// Client is both a models.PaidTranscriber and a models.PaidEmbedder.
type Client struct {
	client          *genai.Client
	transcribeModel string
	embedModel      string
	perMinute       float64
	per1KChars      float64
}

func NewClient(ctx context.Context, cfg config.GeminiConfig, cost config.CostConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &Client{
		client:          client,
		transcribeModel: cfg.TranscribeModel,
		embedModel:      cfg.EmbedModel,
		perMinute:       cost.TranscriptionPerMinute,
		per1KChars:      cost.EmbeddingPer1KChars,
	}, nil
}

func (c *Client) Name() string { return "gemini" }

func (c *Client) EstimateTranscriptionCost(durationSeconds float64) float64 {
	return EstimateTranscription(durationSeconds, c.perMinute)
}

func (c *Client) EstimateEmbeddingCost(chars int) float64 {
	return EstimateEmbedding(chars, c.per1KChars)
}

// EstimateTranscription prices audio per minute, prorated.
func EstimateTranscription(durationSeconds, perMinute float64) float64 {
	if durationSeconds <= 0 {
		return 0
	}
	return durationSeconds / 60 * perMinute
}

func EstimateEmbedding(chars int, per1KChars float64) float64 {
	if chars <= 0 {
		return 0
	}
	return float64(chars) / 1000 * per1KChars
}

func (c *Client) Transcribe(ctx context.Context, req models.TranscriptionRequest) ([]models.Segment, error) {
	data, err := os.ReadFile(req.AudioPath)
	if err != nil {
		return nil, fmt.Errorf("reading audio: %w", err)
	}
	mime := mimetype.Detect(data).String()
	if !strings.HasPrefix(mime, "audio/") && !strings.HasPrefix(mime, "video/") {
		mime = "audio/mpeg"
	}

	model := c.client.GenerativeModel(c.transcribeModel)
	model.SetTemperature(0)
	model.ResponseMIMEType = "application/json"

	prompt := transcribePrompt
	if req.Language != "" {
		prompt += "\nThe spoken language is " + req.Language + "."
	}

	resp, err := model.GenerateContent(ctx, genai.Blob{MIMEType: mime, Data: data}, genai.Text(prompt))
	if err != nil {
		return nil, models.ClassifyEngineError(err)
	}
	text, err := extractText(resp)
	if err != nil {
		return nil, err
	}
	return parseSegments(text)
}

func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	em := c.client.EmbeddingModel(c.embedModel)
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatch {
		end := min(start+maxBatch, len(texts))
		batch := em.NewBatch()
		for _, t := range texts[start:end] {
			batch.AddContent(genai.Text(t))
		}
		res, err := em.BatchEmbedContents(ctx, batch)
		if err != nil {
			return nil, models.ClassifyEngineError(err)
		}
		if len(res.Embeddings) != end-start {
			return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", models.ErrInvalidResponse, len(res.Embeddings), end-start)
		}
		for _, e := range res.Embeddings {
			out = append(out, e.Values)
		}
	}
	return out, nil
}

func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates in response", models.ErrInvalidResponse)
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("%w: no content in response", models.ErrInvalidResponse)
	}
	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("%w: no text parts in response", models.ErrInvalidResponse)
	}
	return strings.Join(parts, ""), nil
}

func parseSegments(text string) ([]models.Segment, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var segs []models.Segment
	if err := json.Unmarshal([]byte(text), &segs); err != nil {
		return nil, fmt.Errorf("%w: decoding segments: %v", models.ErrInvalidResponse, err)
	}
	out := segs[:0]
	for _, s := range segs {
		s.Text = strings.TrimSpace(s.Text)
		if s.End < s.Start {
			s.Start, s.End = s.End, s.Start
		}
		out = append(out, s)
	}
	return out, nil
}

var (
	_ models.PaidTranscriber = (*Client)(nil)
	_ models.PaidEmbedder    = (*Client)(nil)
)
