package tools

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/shannonlabs/shannon/internal/auth"
)

const browserMaxText = 8000

// BrowserTool drives a headless browser for page fetches and
// screenshots. The browser launches lazily on first use.
type BrowserTool struct {
	mu      sync.Mutex
	browser *rod.Browser
}

// NewBrowserTool creates the browser tool.
func NewBrowserTool() *BrowserTool {
	return &BrowserTool{}
}

func (t *BrowserTool) Name() string { return "browser" }

func (t *BrowserTool) Description() string {
	return "Browse the web: navigate to URLs and read page content, " +
		"extract text by CSS selector, or take screenshots."
}

func (t *BrowserTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"navigate", "extract", "screenshot"},
				"description": "The browser action to perform.",
			},
			"url": map[string]interface{}{
				"type":        "string",
				"description": "URL to navigate to (for 'navigate' action).",
			},
			"selector": map[string]interface{}{
				"type":        "string",
				"description": "CSS selector to extract text from (for 'extract' action).",
			},
			"output_path": map[string]interface{}{
				"type":        "string",
				"description": "File path for screenshot output.",
			},
		},
		"required": []string{"action"},
	}
}

func (t *BrowserTool) RequiredPermission() auth.PermissionLevel { return auth.LevelOperator }

func (t *BrowserTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	browser, err := t.connect()
	if err != nil {
		return Errf("browser launch failed: %v", err)
	}

	switch action := argString(args, "action"); action {
	case "navigate":
		return t.navigate(ctx, browser, argString(args, "url"))
	case "extract":
		return t.extract(ctx, browser, argString(args, "selector"))
	case "screenshot":
		return t.screenshot(ctx, browser, argString(args, "output_path"))
	default:
		return Errf("unknown action: %s", action)
	}
}

func (t *BrowserTool) connect() (*rod.Browser, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.browser != nil {
		return t.browser, nil
	}
	controlURL, err := launcher.New().Headless(true).Launch()
	if err != nil {
		return nil, err
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, err
	}
	t.browser = browser
	return browser, nil
}

func (t *BrowserTool) navigate(ctx context.Context, browser *rod.Browser, url string) *Result {
	if url == "" {
		return Errf("url is required")
	}
	page, err := browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return Errf("open %s: %v", url, err)
	}
	page = page.Context(ctx)
	if err := page.WaitLoad(); err != nil {
		return Errf("load %s: %v", url, err)
	}
	info, err := page.Info()
	if err != nil {
		return Errf("page info: %v", err)
	}
	body, err := page.Element("body")
	if err != nil {
		return Errf("read body: %v", err)
	}
	text, err := body.Text()
	if err != nil {
		return Errf("read text: %v", err)
	}
	if len(text) > browserMaxText {
		text = text[:browserMaxText]
	}
	return Okf("Title: %s\n\n%s", info.Title, text)
}

func (t *BrowserTool) extract(ctx context.Context, browser *rod.Browser, selector string) *Result {
	if selector == "" {
		return Errf("selector is required")
	}
	pages, err := browser.Pages()
	if err != nil || len(pages) == 0 {
		return Errf("no open page; navigate first")
	}
	page := pages[0].Context(ctx)
	els, err := page.Elements(selector)
	if err != nil {
		return Errf("query %q: %v", selector, err)
	}
	if len(els) == 0 {
		return Ok("No elements found")
	}
	var out string
	for i, el := range els {
		text, err := el.Text()
		if err != nil {
			continue
		}
		if i > 0 {
			out += "\n---\n"
		}
		out += text
		if len(out) > browserMaxText {
			out = out[:browserMaxText]
			break
		}
	}
	return Ok(out)
}

func (t *BrowserTool) screenshot(ctx context.Context, browser *rod.Browser, path string) *Result {
	if path == "" {
		path = "screenshot.png"
	}
	pages, err := browser.Pages()
	if err != nil || len(pages) == 0 {
		return Errf("no open page; navigate first")
	}
	page := pages[0].Context(ctx)
	data, err := page.Screenshot(false, nil)
	if err != nil {
		return Errf("screenshot: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Errf("write %s: %v", path, err)
	}
	return Okf("Screenshot saved to %s", path)
}

// Cleanup closes the browser if it was launched.
func (t *BrowserTool) Cleanup() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.browser == nil {
		return nil
	}
	err := t.browser.Close()
	t.browser = nil
	if err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}
