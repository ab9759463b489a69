package cloudsync

import (
	"context"
	"fmt"
	"time"

	"workplace-monitor/internal/models"

	"github.com/go-resty/resty/v2"
)

// StatusReporter receives the periodic heartbeat.
type StatusReporter interface {
	ReportStatus(ctx context.Context, status models.BranchStatus) error
}

// HTTPStatusReporter posts the heartbeat as JSON to a status endpoint.
type HTTPStatusReporter struct {
	client *resty.Client
	url    string
}

func NewHTTPStatusReporter(url, token string, timeout time.Duration) *HTTPStatusReporter {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &HTTPStatusReporter{
		client: client,
		url:    url,
	}
}

func (r *HTTPStatusReporter) ReportStatus(ctx context.Context, status models.BranchStatus) error {
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(status).
		Post(r.url)
	if err != nil {
		return fmt.Errorf("failed to post status: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("status endpoint returned %d", resp.StatusCode())
	}
	return nil
}
