package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	m "jstool.dev/pkg/jstool/internal/model"
)

// Browser loads suite runner pages and reads back their test results.
type Browser interface {
	PageResults(ctx context.Context, url string) ([]m.TestResult, error)
	Close() error
}

// BrowserConfig configures Chrome launch options.
type BrowserConfig struct {
	Headless bool          // Run without a window (default: true)
	Timeout  time.Duration // How long a page may take to report results (default: 10s)
}

// DefaultBrowserConfig returns the defaults used by the CLI.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		Headless: true,
		Timeout:  10 * time.Second,
	}
}

// RodBrowser drives a Chrome instance through Rod. One instance may load
// several pages concurrently.
type RodBrowser struct {
	browser *rod.Browser
	timeout time.Duration
}

// NewRodBrowser launches Chrome and connects to it.
func NewRodBrowser(cfg BrowserConfig) (*RodBrowser, error) {
	l := launcher.New().
		Headless(cfg.Headless).
		Set("no-sandbox").
		Set("disable-gpu")

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to launch Chrome: %w", ErrBrowser, err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("%w: failed to connect to Chrome: %w", ErrBrowser, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultBrowserConfig().Timeout
	}

	return &RodBrowser{browser: browser, timeout: timeout}, nil
}

// PageResults opens url, waits for the runner to fill the results element
// and decodes its contents.
func (b *RodBrowser) PageResults(ctx context.Context, url string) ([]m.TestResult, error) {
	page, err := b.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("%w: could not open a page: %w", ErrBrowser, err)
	}

	defer func() { _ = page.Close() }()

	p := page.Context(ctx).Timeout(b.timeout)

	if err := p.Navigate(url); err != nil {
		return nil, fmt.Errorf("%w: could not load page at '%s': %w", ErrBrowser, url, err)
	}

	filled := rod.Eval(`(id) => {
		const el = document.getElementById(id);
		return el !== null && el.textContent.length > 0;
	}`, ResultsDivID)

	if err := p.Wait(filled); err != nil {
		return nil, fmt.Errorf("%w: could not find test results on page at '%s': %w", ErrBrowser, url, err)
	}

	el, err := p.Element("#" + ResultsDivID)
	if err != nil {
		return nil, fmt.Errorf("%w: could not find test results on page at '%s': %w", ErrBrowser, url, err)
	}

	contents, err := el.Text()
	if err != nil {
		return nil, fmt.Errorf("%w: could not read test results on page at '%s': %w", ErrBrowser, url, err)
	}

	return ParseRunnerOutput(contents)
}

// Close shuts Chrome down.
func (b *RodBrowser) Close() error {
	if b.browser != nil {
		return b.browser.Close()
	}

	return nil
}

var requiredResultKeys = []string{"testGroup", "testName", "testStatus", "testDetail"}

// ParseRunnerOutput decodes the JSON list a runner page writes into its
// results element. Every entry must carry all four result keys.
func ParseRunnerOutput(contents string) ([]m.TestResult, error) {
	var raw []map[string]json.RawMessage

	if err := json.Unmarshal([]byte(strings.TrimSpace(contents)), &raw); err != nil {
		return nil, fmt.Errorf("%w: could not decode JSON test results: '%s'", ErrBrowser, contents)
	}

	results := make([]m.TestResult, 0, len(raw))

	for _, entry := range raw {
		values := make(map[string]string, len(requiredResultKeys))

		for _, key := range requiredResultKeys {
			value, ok := entry[key]
			if !ok || string(value) == "null" {
				return nil, fmt.Errorf("%w: test result is missing required key '%s'", ErrBrowser, key)
			}

			var s string
			if err := json.Unmarshal(value, &s); err != nil {
				return nil, fmt.Errorf("%w: test result key '%s' must be a string", ErrBrowser, key)
			}

			values[key] = s
		}

		results = append(results, m.TestResult{
			Group:  values["testGroup"],
			Name:   values["testName"],
			Status: m.ResultStatus(values["testStatus"]),
			Detail: values["testDetail"],
		})
	}

	return results, nil
}
