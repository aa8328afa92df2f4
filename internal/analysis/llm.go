package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/wire"
)

const llmSystemPrompt = `You are a speech-pattern analyst reviewing a transcript of a student ` +
	`practicing a clinical conversation with a simulated patient. Return a JSON object with a ` +
	`"summary" string and a "metrics" object mapping metric names to numbers between 0 and 1. ` +
	`Return only the JSON object.`

// LLMAnalyzer produces reports through an OpenAI-compatible chat completions
// endpoint instead of the dedicated analysis service.
type LLMAnalyzer struct {
	BaseURL string
	APIKey  string
	Model   string
	Client  *http.Client
}

func NewLLMAnalyzer(baseURL, apiKey, model string) *LLMAnalyzer {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	return &LLMAnalyzer{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

type llmMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type llmChatReq struct {
	Model    string   `json:"model"`
	Messages []llmMsg `json:"messages"`
	Stream   bool     `json:"stream"`
}

type llmChatResp struct {
	Choices []struct {
		Message llmMsg `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// transcript renders the session as the plain text block the prompt refers to.
func transcript(messages []wire.ChatMessage) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	return b.String()
}

func (a *LLMAnalyzer) Analyze(ctx context.Context, messages []wire.ChatMessage) (Report, error) {
	if a.Client == nil {
		return Report{}, errors.New("analysis: http client is nil")
	}
	if strings.TrimSpace(a.APIKey) == "" {
		return Report{}, errors.New("analysis: llm api key is required")
	}
	model := strings.TrimSpace(a.Model)
	if model == "" {
		return Report{}, errors.New("analysis: llm model is required")
	}

	reqBody := llmChatReq{
		Model:  model,
		Stream: false,
		Messages: []llmMsg{
			{Role: "system", Content: llmSystemPrompt},
			{Role: "user", Content: transcript(messages)},
		},
	}
	b, err := json.Marshal(reqBody)
	if err != nil {
		return Report{}, err
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(a.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return Report{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.APIKey)

	resp, err := a.Client.Do(req)
	if err != nil {
		return Report{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return Report{}, fmt.Errorf("analysis: llm: %s", msg)
	}

	var decoded llmChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Report{}, err
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return Report{}, errors.New(decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return Report{}, errors.New("analysis: llm: empty response")
	}

	return parseReport(decoded.Choices[0].Message.Content)
}

// parseReport tolerates models that wrap the JSON in a code fence or prose.
func parseReport(content string) (Report, error) {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end <= start {
		return Report{}, errors.New("analysis: llm: no json object in response")
	}
	var r Report
	if err := json.Unmarshal([]byte(content[start:end+1]), &r); err != nil {
		return Report{}, fmt.Errorf("analysis: llm: decode report: %w", err)
	}
	if r.Summary == "" {
		return Report{}, errors.New("analysis: llm: report has no summary")
	}
	return r, nil
}
