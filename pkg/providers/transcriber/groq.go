package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/kotoba-ai/kotoba-stream/pkg/audio"
)

// Groq is a Transcriber backed by Groq's hosted Whisper-compatible
// transcription API, an alternative to the in-process WhisperCPP adapter
// for deployments that would rather not load a local acoustic model.
type Groq struct {
	apiKey     string
	url        string
	model      string
	sampleRate int
	client     *http.Client
}

// NewGroq builds a Groq transcriber. model defaults to
// "whisper-large-v3-turbo"; sampleRate must match the PCM this process
// decodes audio frames into (spec §6: 16kHz mono).
func NewGroq(apiKey, model string, sampleRate int) *Groq {
	if model == "" {
		model = "whisper-large-v3-turbo"
	}
	return &Groq{
		apiKey:     apiKey,
		url:        "https://api.groq.com/openai/v1/audio/transcriptions",
		model:      model,
		sampleRate: sampleRate,
		client:     http.DefaultClient,
	}
}

// Transcribe implements Transcriber. It wraps the PCM snapshot in a WAV
// container (the wire format Groq's multipart endpoint expects) and posts
// it as a multipart/form-data request. beamSize has no analogue in Groq's
// hosted API and is ignored; the initialPrompt maps onto Whisper's "prompt"
// field.
func (g *Groq) Transcribe(ctx context.Context, pcm []byte, initialPrompt, language string, beamSize int) (Result, error) {
	wavData := audio.NewWavBuffer(pcm, g.sampleRate)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("model", g.model); err != nil {
		return Result{}, err
	}
	if language != "" {
		if err := writer.WriteField("language", language); err != nil {
			return Result{}, err
		}
	}
	if initialPrompt != "" {
		if err := writer.WriteField("prompt", initialPrompt); err != nil {
			return Result{}, err
		}
	}

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return Result{}, err
	}
	if _, err := io.Copy(part, bytes.NewReader(wavData)); err != nil {
		return Result{}, err
	}
	if err := writer.Close(); err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", g.url, body)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("transcriber: groq request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return Result{}, fmt.Errorf("transcriber: groq returned status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return Result{}, fmt.Errorf("transcriber: groq error (status %d): %v", resp.StatusCode, errResp)
	}

	var result struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, err
	}

	return Result{Text: result.Text, LanguageDetected: result.Language}, nil
}

// Name identifies this provider for selection logging.
func (g *Groq) Name() string { return "groq-transcriber" }
