package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pinapelz/rasis/internal/application/server"
)

const statusPath string = "/status"
const runPath string = "/run"
const sweepPath string = "/sweep"

// New creates the publication pipeline API http client
func New(baseURL string) (*client, error) {
	url, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	return &client{
		baseURL: url,
		httpClient: &http.Client{
			Timeout: time.Minute,
		}}, nil
}

type client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// GetStatus returns the queue and rate window state.
func (c *client) GetStatus(ctx context.Context) (server.StatusResponseBody, error) {
	rel := &url.URL{Path: statusPath}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return server.StatusResponseBody{}, err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return server.StatusResponseBody{}, err
	}
	defer res.Body.Close()
	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusBadRequest {
		var errRes server.ErrResponseBody
		if err = json.NewDecoder(res.Body).Decode(&errRes); err == nil {
			return server.StatusResponseBody{}, errors.New(errRes.ErrorText)
		}
		return server.StatusResponseBody{}, fmt.Errorf("unknown error, status code: %d", res.StatusCode)
	}
	status := server.StatusResponseBody{}
	if err = json.NewDecoder(res.Body).Decode(&status); err != nil {
		return server.StatusResponseBody{}, err
	}
	return status, nil
}

// TriggerRun queues one pipeline cycle on the worker.
func (c *client) TriggerRun(ctx context.Context) error {
	return c.trigger(ctx, runPath)
}

// TriggerSweep queues one retention sweep on the worker.
func (c *client) TriggerSweep(ctx context.Context) error {
	return c.trigger(ctx, sweepPath)
}

func (c *client) trigger(ctx context.Context, path string) error {
	rel := &url.URL{Path: path}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, "PUT", u.String(), nil)
	if err != nil {
		return err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNoContent {
		return nil
	}
	// handle error
	var errRes server.ErrResponseBody
	if err = json.NewDecoder(res.Body).Decode(&errRes); err == nil {
		return errors.New(errRes.ErrorText)
	}
	return fmt.Errorf("unknown error, status code: %d, message: %v", res.StatusCode, res.Status)
}
