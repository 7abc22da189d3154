// Package gateway contains HTTP clients for the external collaborators the
// engine calls during action steps: the email delivery service and the
// contact directory.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dripflow/dripflow/pkg/models"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPEmailGateway delivers messages by POSTing them to the delivery
// service's send endpoint.
type HTTPEmailGateway struct {
	baseURL  string
	client   *http.Client
	validate *validator.Validate
}

func NewHTTPEmailGateway(baseURL string) *HTTPEmailGateway {
	return &HTTPEmailGateway{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: defaultHTTPTimeout},
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (g *HTTPEmailGateway) SendEmail(ctx context.Context, message models.EmailMessage) error {
	if err := g.validate.Struct(message); err != nil {
		return fmt.Errorf("invalid email message: %w", err)
	}

	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to encode email message: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	request.Header.Set("Content-Type", "application/json")

	response, err := g.client.Do(request)
	if err != nil {
		return fmt.Errorf("delivery request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(response.Body, 512))

		return fmt.Errorf("delivery service returned %d: %s", response.StatusCode, string(detail))
	}

	return nil
}

func (g *HTTPEmailGateway) IsHealthy(ctx context.Context) bool {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/health", nil)
	if err != nil {
		return false
	}

	response, err := g.client.Do(request)
	if err != nil {
		return false
	}
	defer response.Body.Close()

	return response.StatusCode == http.StatusOK
}
