package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/conneroisu/pagecraft/internal/persist"
	"github.com/conneroisu/pagecraft/internal/version"
)

// apiClient talks to the page API of a running hub.
type apiClient struct {
	baseURL string
	http    *http.Client
}

type apiError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("hub returned %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *apiClient) pagesURL(project string, rest ...string) string {
	u := c.baseURL + "/api/projects/" + url.PathEscape(project) + "/pages"
	for _, part := range rest {
		u += "/" + url.PathEscape(part)
	}
	return u
}

func (c *apiClient) do(ctx context.Context, method, target string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach hub: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) ListPages(ctx context.Context, project string) ([]persist.Page, error) {
	var pages []persist.Page
	err := c.do(ctx, http.MethodGet, c.pagesURL(project), nil, &pages)
	return pages, err
}

func (c *apiClient) CreatePage(ctx context.Context, project, id, title string, styles map[string]string) (persist.Page, error) {
	var page persist.Page
	body := map[string]interface{}{"id": id}
	if title != "" {
		body["title"] = title
	}
	if len(styles) > 0 {
		body["styles"] = styles
	}
	err := c.do(ctx, http.MethodPost, c.pagesURL(project), body, &page)
	return page, err
}

func (c *apiClient) DeletePage(ctx context.Context, project, id string) error {
	return c.do(ctx, http.MethodDelete, c.pagesURL(project, id), nil, nil)
}
