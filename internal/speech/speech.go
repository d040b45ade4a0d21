// Package speech provides speech-to-text and text-to-speech through the
// Deepgram REST API. Speech is an optional capability; callers degrade to
// text-only conversation when no client is configured.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the Deepgram API endpoint.
const DefaultBaseURL = "https://api.deepgram.com"

const (
	defaultSTTModel = "nova-2"
	defaultTTSVoice = "aura-asteria-en"

	// maxAudioBytes caps uploaded audio at 25 MB.
	maxAudioBytes = 25 << 20
)

// Client talks to the Deepgram API.
type Client struct {
	BaseURL    string
	APIKey     string
	STTModel   string
	TTSVoice   string
	HTTPClient *http.Client
}

// NewClient creates a speech client. Model and voice fall back to sensible
// defaults when empty.
func NewClient(apiKey, sttModel, ttsVoice string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("speech: API key is required")
	}
	if sttModel == "" {
		sttModel = defaultSTTModel
	}
	if ttsVoice == "" {
		ttsVoice = defaultTTSVoice
	}
	return &Client{
		BaseURL:  DefaultBaseURL,
		APIKey:   apiKey,
		STTModel: sttModel,
		TTSVoice: ttsVoice,
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}, nil
}

// transcriptionResponse is the subset of Deepgram's /v1/listen response we
// care about.
type transcriptionResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe converts audio to text. contentType is the audio MIME type,
// e.g. "audio/webm" or "audio/wav".
func (c *Client) Transcribe(ctx context.Context, audio []byte, contentType string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("speech: empty audio")
	}
	if len(audio) > maxAudioBytes {
		return "", fmt.Errorf("speech: audio exceeds %d bytes", maxAudioBytes)
	}
	if contentType == "" {
		contentType = "audio/webm"
	}

	q := url.Values{}
	q.Set("model", c.STTModel)
	q.Set("smart_format", "true")
	endpoint := c.BaseURL + "/v1/listen?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(audio))
	if err != nil {
		return "", fmt.Errorf("speech: build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.APIKey)
	req.Header.Set("Content-Type", contentType)

	body, err := c.do(req)
	if err != nil {
		return "", err
	}

	var parsed transcriptionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("speech: parse transcription: %w", err)
	}
	if len(parsed.Results.Channels) == 0 || len(parsed.Results.Channels[0].Alternatives) == 0 {
		return "", nil
	}
	return strings.TrimSpace(parsed.Results.Channels[0].Alternatives[0].Transcript), nil
}

// Synthesize converts text to spoken audio and returns the encoded bytes
// (MP3 by default).
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("speech: empty text")
	}

	q := url.Values{}
	q.Set("model", c.TTSVoice)
	endpoint := c.BaseURL + "/v1/speak?" + q.Encode()

	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("speech: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("speech: build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, fmt.Errorf("speech: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("speech: %s returned HTTP %d: %s", req.URL.Path, resp.StatusCode, truncateBody(body))
	}
	return body, nil
}

func truncateBody(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

// SplitSegments breaks a bot message into speakable segments, one per
// non-empty line. Synthesizing line by line keeps latency down for long
// replies like the greeting's task list.
func SplitSegments(message string) []string {
	var segments []string
	for _, line := range strings.Split(message, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			segments = append(segments, trimmed)
		}
	}
	return segments
}
