package remote

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

	apperrors "github.com/auditcore/fieldsync/internal/errors"
	"github.com/auditcore/fieldsync/internal/models"
)

// RESTBackend talks to a PostgREST-style API: POST to insert, PATCH/DELETE
// filtered by id to update and remove. The API key rides in both the apikey
// and Authorization headers.
type RESTBackend struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewREST creates a backend rooted at baseURL (e.g. https://host/rest/v1).
func NewREST(baseURL, apiKey string) *RESTBackend {
	return &RESTBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

func (b *RESTBackend) newRequest(ctx context.Context, method, table, filter string, body any) (*http.Request, error) {
	endpoint := b.baseURL + "/" + url.PathEscape(table)
	if filter != "" {
		endpoint += "?" + filter
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.apiKey != "" {
		req.Header.Set("apikey", b.apiKey)
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}
	return req, nil
}

func remoteError(table string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return apperrors.New(apperrors.ErrRemoteRejected,
		fmt.Sprintf("%s returned status %d: %s", table, resp.StatusCode, strings.TrimSpace(string(body))))
}

// Insert creates a row and returns the server's representation of it.
func (b *RESTBackend) Insert(ctx context.Context, table string, record models.Record) (models.Record, error) {
	req, err := b.newRequest(ctx, http.MethodPost, table, "", record)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Prefer", "return=representation")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("insert request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, remoteError(table, resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read insert response: %w", err)
	}

	// The API returns a one-element array for single-row inserts; accept a
	// bare object as well.
	var rows []models.Record
	if err := json.Unmarshal(raw, &rows); err == nil && len(rows) > 0 {
		return rows[0], nil
	}
	var row models.Record
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("failed to decode insert response: %w", err)
	}
	return row, nil
}

// Update patches the row with the given id.
func (b *RESTBackend) Update(ctx context.Context, table string, id string, record models.Record) error {
	filter := "id=eq." + url.QueryEscape(id)
	req, err := b.newRequest(ctx, http.MethodPatch, table, filter, record)
	if err != nil {
		return err
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("update request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return remoteError(table, resp)
	}
	return nil
}

// Delete removes the row with the given id.
func (b *RESTBackend) Delete(ctx context.Context, table string, id string) error {
	filter := "id=eq." + url.QueryEscape(id)
	req, err := b.newRequest(ctx, http.MethodDelete, table, filter, nil)
	if err != nil {
		return err
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return remoteError(table, resp)
	}
	return nil
}
