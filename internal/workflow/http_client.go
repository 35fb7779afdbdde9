package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// HTTPClient is a minimal JSON-over-HTTP stub for the workflow runtime's
// submission endpoint. The runtime's real wire protocol is external and
// unspecified by the spec (see DESIGN.md); this client only needs to carry
// the Submit/Cancel contract far enough to exercise the rest of the
// submitter pipeline and the circuit breaker wrapping it.
type HTTPClient struct {
	baseURL string
	httpc   *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPClient builds an HTTPClient targeting host:port, wrapped in a
// circuit breaker so a wedged runtime fails fast (SPEC_FULL.md §2.1).
func NewHTTPClient(hostPort string) *HTTPClient {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "workflow-runtime",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	return &HTTPClient{
		baseURL: "http://" + hostPort,
		httpc:   &http.Client{Timeout: 10 * time.Second},
		breaker: cb,
	}
}

type submitRequest struct {
	Identity string `json:"identity"`
	Input    Input  `json:"input"`
}

type submitResponse struct {
	Accepted bool `json:"accepted"`
}

func (c *HTTPClient) Submit(ctx context.Context, identity string, input Input) (Future, error) {
	_, err := c.breaker.Execute(func() (any, error) {
		body, err := json.Marshal(submitRequest{Identity: identity, Input: input})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/workflows/submit", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.httpc.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("workflow: submit %s: status %d", identity, resp.StatusCode)
		}
		var out submitResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return &pollingFuture{client: c, identity: identity}, nil
}

func (c *HTTPClient) Cancel(ctx context.Context, identity string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/workflows/"+identity+"/cancel", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("workflow: cancel %s: status %d", identity, resp.StatusCode)
	}
	return nil
}

// pollingFuture polls the runtime's status endpoint until the workflow
// reaches a terminal state or the context is cancelled.
type pollingFuture struct {
	client   *HTTPClient
	identity string
}

type statusResponse struct {
	Done      bool   `json:"done"`
	Succeeded bool   `json:"succeeded"`
	Output    []byte `json:"output"`
	Error     string `json:"error"`
}

func (f *pollingFuture) Wait(ctx context.Context) (Result, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-ticker.C:
			status, err := f.poll(ctx)
			if err != nil {
				return Result{}, err
			}
			if status.Done {
				var resultErr error
				if status.Error != "" {
					resultErr = fmt.Errorf("workflow: %s", status.Error)
				}
				return Result{Succeeded: status.Succeeded, Output: status.Output, Err: resultErr}, nil
			}
		}
	}
}

func (f *pollingFuture) poll(ctx context.Context) (statusResponse, error) {
	var status statusResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.client.baseURL+"/workflows/"+f.identity, nil)
	if err != nil {
		return status, err
	}
	resp, err := f.client.httpc.Do(req)
	if err != nil {
		return status, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return status, fmt.Errorf("workflow: poll %s: status %d", f.identity, resp.StatusCode)
	}
	err = json.NewDecoder(resp.Body).Decode(&status)
	return status, err
}
