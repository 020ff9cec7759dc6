package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Anthropic translates via the Anthropic messages API, prompted to return
// only the English translation.
type Anthropic struct {
	apiKey string
	url    string
	model  string
	client *http.Client
}

// NewAnthropic builds an Anthropic translator. model defaults to
// "claude-3-5-sonnet-20240620".
func NewAnthropic(apiKey, model string) *Anthropic {
	if model == "" {
		model = "claude-3-5-sonnet-20240620"
	}
	return &Anthropic{
		apiKey: apiKey,
		url:    "https://api.anthropic.com/v1/messages",
		model:  model,
		client: http.DefaultClient,
	}
}

// TranslateJaEn implements Translator.
func (a *Anthropic) TranslateJaEn(ctx context.Context, text string) (string, error) {
	payload := map[string]interface{}{
		"model":      a.model,
		"max_tokens": 1024,
		"system":     "Translate the given Japanese text to English. Reply with only the translation, no commentary.",
		"messages": []map[string]string{
			{"role": "user", "content": text},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", fmt.Errorf("%w: anthropic translator returned status %d", ErrTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", fmt.Errorf("anthropic translator error (status %d): %v", resp.StatusCode, errResp)
	}

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if len(result.Content) == 0 {
		return "", fmt.Errorf("no content returned from anthropic translator")
	}
	return result.Content[0].Text, nil
}

// Name identifies this provider for selection logging.
func (a *Anthropic) Name() string { return "anthropic-translator" }
