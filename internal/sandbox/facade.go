package sandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/taskforge/engine/internal/net/ssrf"
)

// FacadeClient makes the RPC-style calls a Sandbox Manager issues against
// the shell and file services running inside a sandbox, and drives the
// sandbox's headless-Chrome instance over the Chrome DevTools Protocol for
// browser actions. Shell/file/browser calls never retry: the Executor is
// the sole retry authority above the Manager.
type FacadeClient struct {
	http *http.Client
}

// NewFacadeClient builds a façade client with a generous default transport
// timeout; each call further bounds itself with the operation's own timeout.
func NewFacadeClient() *FacadeClient {
	return &FacadeClient{http: &http.Client{Timeout: 2 * time.Minute}}
}

// ProbeAll reports whether every service in ports answers its /healthz
// endpoint. The browser "service" is a CDP port with no HTTP health
// endpoint of its own, so it is considered healthy once TCP-reachable via a
// lightweight chromedp version query.
func (c *FacadeClient) ProbeAll(ctx context.Context, ports map[string]int) bool {
	for name, port := range ports {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		ok := false
		if name == "browser" {
			ok = c.probeBrowser(probeCtx, port)
		} else {
			ok = c.probeHTTP(probeCtx, port)
		}
		cancel()
		if !ok {
			return false
		}
	}
	return true
}

func (c *FacadeClient) probeHTTP(ctx context.Context, port int) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d/healthz", port), nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (c *FacadeClient) probeBrowser(ctx context.Context, port int) bool {
	allocCtx, cancel := chromedp.NewRemoteAllocator(ctx, fmt.Sprintf("ws://127.0.0.1:%d", port))
	defer cancel()
	taskCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()
	return chromedp.Run(taskCtx) == nil
}

// ShellResult is the uniform shape returned by the sandbox's shell service.
type ShellResult struct {
	Success  bool   `json:"success"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`
}

// ExecuteShell runs command inside the sandbox named by the shell service
// at ports["shell"]. Network errors, JSON parse errors, and non-2xx HTTP
// responses are all funneled into a ShellResult with Success=false.
func (c *FacadeClient) ExecuteShell(ctx context.Context, ports map[string]int, command string, timeout time.Duration, cwd string) (*ShellResult, error) {
	port, ok := ports["shell"]
	if !ok {
		return nil, fmt.Errorf("sandbox: no shell service exposed")
	}

	body, _ := json.Marshal(map[string]any{
		"command": command,
		"timeout": int(timeout / time.Millisecond),
		"cwd":     cwd,
	})

	var out ShellResult
	if err := c.post(ctx, port, "/exec", body, timeout+5*time.Second, &out); err != nil {
		return &ShellResult{Success: false, Error: err.Error()}, nil
	}
	return &out, nil
}

// FileResult is the uniform shape returned by the sandbox's file service.
type FileResult struct {
	Success bool              `json:"success"`
	Content string            `json:"content,omitempty"`
	Entries []FileEntry       `json:"entries,omitempty"`
	Size    int64             `json:"size,omitempty"`
	Error   string            `json:"error,omitempty"`
	Extra   map[string]string `json:"extra,omitempty"`
}

// FileEntry is one row of a directory listing.
type FileEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// ReadFile reads path from the sandbox's /work tree.
func (c *FacadeClient) ReadFile(ctx context.Context, ports map[string]int, path string) (*FileResult, error) {
	port, ok := ports["file"]
	if !ok {
		return nil, fmt.Errorf("sandbox: no file service exposed")
	}
	body, _ := json.Marshal(map[string]any{"path": path})
	var out FileResult
	if err := c.post(ctx, port, "/read", body, 30*time.Second, &out); err != nil {
		return &FileResult{Success: false, Error: err.Error()}, nil
	}
	return &out, nil
}

// WriteFile writes content to path inside the sandbox's /work tree,
// creating parent directories as needed.
func (c *FacadeClient) WriteFile(ctx context.Context, ports map[string]int, path, content string) (*FileResult, error) {
	port, ok := ports["file"]
	if !ok {
		return nil, fmt.Errorf("sandbox: no file service exposed")
	}
	body, _ := json.Marshal(map[string]any{"path": path, "content": content})
	var out FileResult
	if err := c.post(ctx, port, "/write", body, 30*time.Second, &out); err != nil {
		return &FileResult{Success: false, Error: err.Error()}, nil
	}
	return &out, nil
}

// ListDirectory lists path inside the sandbox's /work tree.
func (c *FacadeClient) ListDirectory(ctx context.Context, ports map[string]int, path string) (*FileResult, error) {
	port, ok := ports["file"]
	if !ok {
		return nil, fmt.Errorf("sandbox: no file service exposed")
	}
	body, _ := json.Marshal(map[string]any{"path": path})
	var out FileResult
	if err := c.post(ctx, port, "/list", body, 30*time.Second, &out); err != nil {
		return &FileResult{Success: false, Error: err.Error()}, nil
	}
	return &out, nil
}

// BrowserResult is the uniform shape returned by browser actions. Its
// populated fields depend on the action: Text/Title for "read", Screenshot
// (base64 PNG) for "screenshot", Table for "extract_table".
type BrowserResult struct {
	Success    bool       `json:"success"`
	Title      string     `json:"title,omitempty"`
	Text       string     `json:"text,omitempty"`
	Screenshot string     `json:"screenshot,omitempty"`
	Table      [][]string `json:"table,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// BrowserAction parameterizes ExecuteBrowser.
type BrowserAction struct {
	Action       string
	URL          string
	Selector     string
	Instructions string
	Timeout      time.Duration
}

// ExecuteBrowser drives the headless Chrome instance running inside the
// sandbox over CDP at ports["browser"]. The target URL is checked against
// the SSRF hostname denylist before navigation: the browser service runs
// with egress enabled, so the adapter is the one place that can still
// refuse requests aimed at internal infrastructure.
func (c *FacadeClient) ExecuteBrowser(ctx context.Context, ports map[string]int, action BrowserAction) (*BrowserResult, error) {
	port, ok := ports["browser"]
	if !ok {
		return nil, fmt.Errorf("sandbox: no browser service exposed")
	}
	if action.URL != "" {
		if host, blocked := ssrf.CheckURL(action.URL); blocked {
			return &BrowserResult{Success: false, Error: fmt.Sprintf("blocked host: %s", host)}, nil
		}
	}

	timeout := action.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(callCtx, fmt.Sprintf("ws://127.0.0.1:%d", port))
	defer allocCancel()
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	result, err := runBrowserAction(taskCtx, action)
	if err != nil {
		return &BrowserResult{Success: false, Error: err.Error()}, nil
	}
	result.Success = true
	return result, nil
}

func runBrowserAction(ctx context.Context, action BrowserAction) (*BrowserResult, error) {
	switch action.Action {
	case "open":
		if err := chromedp.Run(ctx, chromedp.Navigate(action.URL)); err != nil {
			return nil, err
		}
		return &BrowserResult{}, nil

	case "read":
		var title, text string
		if err := chromedp.Run(ctx,
			chromedp.Navigate(action.URL),
			chromedp.Title(&title),
			chromedp.Text("body", &text, chromedp.ByQuery),
		); err != nil {
			return nil, err
		}
		return &BrowserResult{Title: title, Text: text}, nil

	case "screenshot":
		var buf []byte
		tasks := chromedp.Tasks{chromedp.Navigate(action.URL)}
		if action.Selector != "" {
			tasks = append(tasks, chromedp.Screenshot(action.Selector, &buf, chromedp.NodeVisible, chromedp.ByQuery))
		} else {
			tasks = append(tasks, chromedp.FullScreenshot(&buf, 90))
		}
		if err := chromedp.Run(ctx, tasks); err != nil {
			return nil, err
		}
		return &BrowserResult{Screenshot: base64.StdEncoding.EncodeToString(buf)}, nil

	case "extract_table":
		var rowsJSON string
		if err := chromedp.Run(ctx,
			chromedp.Navigate(action.URL),
			chromedp.Evaluate(extractTableJS(action.Selector), &rowsJSON),
		); err != nil {
			return nil, err
		}
		var table [][]string
		if err := json.Unmarshal([]byte(rowsJSON), &table); err != nil {
			return nil, fmt.Errorf("parse extracted table: %w", err)
		}
		return &BrowserResult{Table: table}, nil

	case "click":
		if err := chromedp.Run(ctx, chromedp.Click(action.Selector, chromedp.ByQuery)); err != nil {
			return nil, err
		}
		return &BrowserResult{}, nil

	case "fill_form":
		if err := chromedp.Run(ctx, chromedp.SendKeys(action.Selector, action.Instructions, chromedp.ByQuery)); err != nil {
			return nil, err
		}
		return &BrowserResult{}, nil

	default:
		return nil, fmt.Errorf("unknown browser action %q", action.Action)
	}
}

func extractTableJS(selector string) string {
	if selector == "" {
		selector = "table"
	}
	return fmt.Sprintf(`JSON.stringify(Array.from(document.querySelectorAll(%q)).flatMap(t =>
		Array.from(t.querySelectorAll('tr')).map(tr =>
			Array.from(tr.querySelectorAll('th,td')).map(td => td.innerText))))`, selector)
}

func (c *FacadeClient) post(ctx context.Context, port int, path string, body []byte, timeout time.Duration, out any) error {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, fmt.Sprintf("http://127.0.0.1:%d%s", port, path), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sandbox service returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
