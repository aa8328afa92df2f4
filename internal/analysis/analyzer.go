package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cwru-xlab/case-study-ai-avatar-sub000/internal/wire"
)

// Report is what the text-analysis service returns for one transcript.
type Report struct {
	Summary string             `json:"summary"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// Analyzer is the external speech-pattern analysis collaborator.
type Analyzer interface {
	Analyze(ctx context.Context, messages []wire.ChatMessage) (Report, error)
}

// HTTPAnalyzer calls the analysis service over HTTP.
type HTTPAnalyzer struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPAnalyzer(baseURL string) *HTTPAnalyzer {
	return &HTTPAnalyzer{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type analyzeReq struct {
	Messages []wire.ChatMessage `json:"messages"`
}

type analyzeResp struct {
	Report Report `json:"report"`
	Error  string `json:"error,omitempty"`
}

func (a *HTTPAnalyzer) Analyze(ctx context.Context, messages []wire.ChatMessage) (Report, error) {
	if a.Client == nil {
		return Report{}, errors.New("analysis: http client is nil")
	}

	b, err := json.Marshal(analyzeReq{Messages: messages})
	if err != nil {
		return Report{}, err
	}

	url := fmt.Sprintf("%s/analyze", a.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return Report{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.Client.Do(req)
	if err != nil {
		return Report{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Report{}, fmt.Errorf("analysis: status %d", resp.StatusCode)
	}

	var decoded analyzeResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Report{}, err
	}
	if decoded.Error != "" {
		return Report{}, errors.New(decoded.Error)
	}
	return decoded.Report, nil
}
