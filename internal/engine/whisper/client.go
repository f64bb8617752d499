// Package whisper is a client for a local OpenAI-compatible whisper server.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kiranshivaraju/castkeeper/internal/config"
	"github.com/kiranshivaraju/castkeeper/pkg/models"
)

// Client implements models.Transcriber against /v1/audio/transcriptions.
type Client struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewClient(cfg config.WhisperConfig, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) Name() string { return "whisper" }

type transcriptionResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func (c *Client) Transcribe(ctx context.Context, req models.TranscriptionRequest) ([]models.Segment, error) {
	body, contentType, err := c.buildForm(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/audio/transcriptions", body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, models.ClassifyEngineError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", models.ErrEngineUnavailable, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding transcription: %v", models.ErrInvalidResponse, err)
	}

	segs := make([]models.Segment, 0, len(out.Segments))
	for _, s := range out.Segments {
		segs = append(segs, models.Segment{Start: s.Start, End: s.End, Text: strings.TrimSpace(s.Text)})
	}
	return segs, nil
}

func (c *Client) buildForm(req models.TranscriptionRequest) (io.Reader, string, error) {
	f, err := os.Open(req.AudioPath)
	if err != nil {
		return nil, "", fmt.Errorf("opening audio: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(req.AudioPath))
	if err != nil {
		return nil, "", fmt.Errorf("building form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("reading audio: %w", err)
	}
	fields := map[string]string{
		"model":           c.model,
		"response_format": "verbose_json",
	}
	if req.Language != "" {
		fields["language"] = req.Language
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("building form: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("building form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// Ready checks the server's health endpoint.
func (c *Client) Ready(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return models.ClassifyEngineError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: whisper not ready (status %d)", models.ErrEngineUnavailable, resp.StatusCode)
	}
	return nil
}

var _ models.Transcriber = (*Client)(nil)
