package photo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/auditcore/fieldsync/internal/errors"
	"github.com/auditcore/fieldsync/internal/models"
)

// HTTPAnalyzer calls a hosted classification endpoint. The contract is a
// JSON POST of the payload and a {"success": bool, "analysis": {...}}
// response; the classifier's internals are opaque to this client.
type HTTPAnalyzer struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPAnalyzer builds a classifier client for the given endpoint.
func NewHTTPAnalyzer(endpoint, apiKey string) *HTTPAnalyzer {
	return &HTTPAnalyzer{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type analyzeResponse struct {
	Success  bool          `json:"success"`
	Analysis models.Record `json:"analysis"`
	Error    string        `json:"error,omitempty"`
}

// Analyze implements Analyzer.
func (a *HTTPAnalyzer) Analyze(ctx context.Context, payload models.Record) (models.Record, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode analysis payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analysis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apperrors.New(apperrors.ErrAnalysisFailed,
			fmt.Sprintf("classifier returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var decoded analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode analysis response: %w", err)
	}
	if !decoded.Success {
		if decoded.Error == "" {
			decoded.Error = "classifier reported failure"
		}
		return nil, apperrors.New(apperrors.ErrAnalysisFailed, decoded.Error)
	}
	return decoded.Analysis, nil
}
