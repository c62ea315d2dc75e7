// Package visiturl provides a tool that fetches a web page and returns its
// text content with markup stripped.
package visiturl

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/weftworks/loom/internal/tool"
)

const defaultMaxContent = 2000

var (
	scriptPattern = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	tagPattern    = regexp.MustCompile(`<[^>]+>`)
	spacePattern  = regexp.MustCompile(`\s+`)
)

type visitTool struct {
	client     *resty.Client
	maxContent int
}

// New returns the visit_url tool with a default HTTP client.
func New() tool.Tool {
	return NewWithClient(resty.New())
}

// NewWithClient returns the visit_url tool using the supplied resty client.
func NewWithClient(client *resty.Client) tool.Tool {
	return &visitTool{client: client, maxContent: defaultMaxContent}
}

func (t *visitTool) Metadata() tool.Metadata {
	return tool.Metadata{
		Name:        "visit_url",
		Description: "Fetches a URL and returns its readable text content.",
	}
}

func (t *visitTool) Schema() tool.Schema {
	return tool.Schema{Args: []tool.Arg{
		{Name: "url", Type: "string", Required: true, Description: "Page to fetch"},
	}}
}

func (t *visitTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	target, _ := args["url"].(string)
	if target == "" {
		return nil, fmt.Errorf("url is required")
	}

	resp, err := t.client.R().SetContext(ctx).Get(target)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}

	content := extractText(resp.String())
	if len(content) > t.maxContent {
		content = content[:t.maxContent]
	}

	return map[string]any{
		"url":     target,
		"status":  resp.StatusCode(),
		"content": content,
	}, nil
}

func extractText(body string) string {
	body = scriptPattern.ReplaceAllString(body, " ")
	body = tagPattern.ReplaceAllString(body, " ")
	body = html.UnescapeString(body)
	return strings.TrimSpace(spacePattern.ReplaceAllString(body, " "))
}
