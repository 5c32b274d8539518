package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const webFetchMaxBody = 5 << 20

// WebFetchTool retrieves a URL over HTTP.
type WebFetchTool struct {
	client *http.Client
}

// NewWebFetch creates the webfetch tool.
func NewWebFetch() *WebFetchTool {
	return &WebFetchTool{client: &http.Client{Timeout: 30 * time.Second}}
}

func (t *WebFetchTool) Name() string { return "webfetch" }
func (t *WebFetchTool) Description() string {
	return "Fetch a URL over HTTP and return the response body as text."
}
func (t *WebFetchTool) Parallel() bool { return true }

func (t *WebFetchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "URL to fetch (http or https)",
			},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, call Call, args map[string]any) *Result {
	url := strArg(args, "url")
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return Errorf("url must be http or https")
	}

	ok, err := call.Allow(ctx, "webfetch", url, nil)
	if err != nil {
		return Errorf("permission check: %v", err)
	}
	if !ok {
		return Denied("webfetch")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Errorf("build request: %v", err)
	}
	req.Header.Set("User-Agent", "gocode/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Aborted()
		}
		return Errorf("fetch %s: %v", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, webFetchMaxBody))
	if err != nil {
		return Errorf("read body: %v", err)
	}

	res := &Result{
		Output: string(body),
		Title:  url,
		Metadata: map[string]any{
			"status":      resp.StatusCode,
			"contentType": resp.Header.Get("Content-Type"),
			"bytes":       len(body),
		},
	}
	if resp.StatusCode >= 400 {
		res.IsError = true
		res.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return res
}
