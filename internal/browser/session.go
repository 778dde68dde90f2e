package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
)

// ErrElementNotFound is returned when a selector matches nothing in the live page
var ErrElementNotFound = errors.New("element not found")

// ErrSessionClosed is returned by every action after Close
var ErrSessionClosed = errors.New("browser session closed")

// XPathPrefix marks a selector candidate as an XPath expression instead of CSS
const XPathPrefix = "xpath="

// Dialog describes a native JavaScript dialog blocking the page
type Dialog struct {
	Type    string
	Message string
	URL     string
}

// DialogError is returned by actions attempted while a dialog is open
type DialogError struct {
	Dialog Dialog
}

func (e *DialogError) Error() string {
	return fmt.Sprintf("page blocked by %s dialog: %q", e.Dialog.Type, e.Dialog.Message)
}

// Session is one isolated browser. Every call is a suspension point; a
// session is driven by a single goroutine.
type Session interface {
	Navigate(ctx context.Context, url string) error
	Exists(ctx context.Context, selector string) (bool, error)
	Fill(ctx context.Context, selector, value string) error
	Select(ctx context.Context, selector, value string) error
	SetChecked(ctx context.Context, selector string, checked bool) error
	SetHidden(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	PageHTML(ctx context.Context) (string, error)
	CurrentURL(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	PendingDialog() (Dialog, bool)
	DismissDialog(ctx context.Context, accept bool) error
	SetExtraHeaders(ctx context.Context, headers map[string]string) error
	Close() error
}

// Launcher opens a fresh session per submission
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// Options configures launched Chrome sessions
type Options struct {
	Headless      bool          `yaml:"headless"`
	ExecPath      string        `yaml:"exec_path"`
	ActionTimeout time.Duration `yaml:"action_timeout"`
	NavTimeout    time.Duration `yaml:"navigation_timeout"`
	WindowWidth   int           `yaml:"window_width"`
	WindowHeight  int           `yaml:"window_height"`
	UserAgent     string        `yaml:"user_agent"`
	ScreenQuality int           `yaml:"screenshot_quality"`
}

// DefaultOptions returns headless settings suitable for unattended filing
func DefaultOptions() Options {
	return Options{
		Headless:      true,
		ActionTimeout: 10 * time.Second,
		NavTimeout:    30 * time.Second,
		WindowWidth:   1920,
		WindowHeight:  1080,
		ScreenQuality: 90,
	}
}

// IsXPath reports whether the selector uses the xpath= prefix
func IsXPath(selector string) bool {
	return strings.HasPrefix(selector, XPathPrefix)
}

// StripXPath removes the xpath= prefix if present
func StripXPath(selector string) string {
	return strings.TrimPrefix(selector, XPathPrefix)
}

// CheckSelector reports whether a CSS selector candidate is syntactically
// valid. XPath candidates are left to the browser.
func CheckSelector(selector string) error {
	if IsXPath(selector) {
		if strings.TrimSpace(StripXPath(selector)) == "" {
			return fmt.Errorf("empty xpath selector")
		}
		return nil
	}
	if _, err := cascadia.Compile(selector); err != nil {
		return fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	return nil
}
