package ai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"telegram-ai-billing/internal/domain/ports/adapter"
)

var _ adapter.Transcriber = (*WhisperTranscriber)(nil)

// maxVoiceBytes caps the downloaded recording; the audio API rejects larger files.
const maxVoiceBytes = 25 << 20

// WhisperTranscriber downloads a Telegram voice file and sends it to the
// audio transcription endpoint.
type WhisperTranscriber struct {
	client   openai.Client
	model    string
	download *http.Client
}

func NewWhisperTranscriber(apiKey, baseURL, model string) (*WhisperTranscriber, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if model == "" {
		model = "whisper-1"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &WhisperTranscriber{
		client:   openai.NewClient(opts...),
		model:    model,
		download: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, fileURL string) (string, error) {
	data, err := w.fetch(ctx, fileURL)
	if err != nil {
		return "", err
	}
	name := path.Base(strings.SplitN(fileURL, "?", 2)[0])
	if path.Ext(name) == "" {
		name = "voice.ogg"
	}
	resp, err := w.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(data), name, "audio/ogg"),
		Model: openai.AudioModel(w.model),
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

func (w *WhisperTranscriber) fetch(ctx context.Context, fileURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := w.download.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("voice download http %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxVoiceBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxVoiceBytes {
		return nil, errors.New("voice file too large")
	}
	return data, nil
}
