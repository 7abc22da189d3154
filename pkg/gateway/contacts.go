package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/dripflow/dripflow/pkg/models"
)

// HTTPContactDirectory reads and mutates contact state through the contact
// service's REST API.
type HTTPContactDirectory struct {
	baseURL string
	client  *http.Client
}

func NewHTTPContactDirectory(baseURL string) *HTTPContactDirectory {
	return &HTTPContactDirectory{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultHTTPTimeout},
	}
}

func (d *HTTPContactDirectory) ByID(ctx context.Context, contactID string) (*models.SubjectState, error) {
	var state models.SubjectState

	err := d.do(ctx, http.MethodGet, "/v1/contacts/"+url.PathEscape(contactID), nil, &state)
	if err != nil {
		return nil, err
	}

	return &state, nil
}

func (d *HTTPContactDirectory) AddTag(ctx context.Context, contactID, tag string) error {
	return d.do(ctx, http.MethodPost, "/v1/contacts/"+url.PathEscape(contactID)+"/tags",
		map[string]string{"tag": tag}, nil)
}

func (d *HTTPContactDirectory) RemoveTag(ctx context.Context, contactID, tag string) error {
	return d.do(ctx, http.MethodDelete,
		"/v1/contacts/"+url.PathEscape(contactID)+"/tags/"+url.PathEscape(tag), nil, nil)
}

func (d *HTTPContactDirectory) AddToList(ctx context.Context, contactID, listID string) error {
	return d.do(ctx, http.MethodPost, "/v1/lists/"+url.PathEscape(listID)+"/members",
		map[string]string{"contact_id": contactID}, nil)
}

func (d *HTTPContactDirectory) ListMembers(ctx context.Context, listID string) ([]string, error) {
	var result struct {
		Members []string `json:"members"`
	}

	err := d.do(ctx, http.MethodGet, "/v1/lists/"+url.PathEscape(listID)+"/members", nil, &result)
	if err != nil {
		return nil, err
	}

	return result.Members, nil
}

func (d *HTTPContactDirectory) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader

	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}

		body = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := d.client.Do(request)
	if err != nil {
		return fmt.Errorf("contact service request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(response.Body, 512))

		return fmt.Errorf("contact service returned %d for %s %s: %s",
			response.StatusCode, method, path, string(detail))
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
