package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/lance13c/portalpilot/internal/logging"
)

// findChrome attempts to find a Chrome executable
func findChrome() (string, error) {
	var paths []string

	switch runtime.GOOS {
	case "darwin":
		paths = []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
			"/Applications/Brave Browser.app/Contents/MacOS/Brave Browser",
		}
	case "linux":
		paths = []string{
			"google-chrome",
			"google-chrome-stable",
			"chromium",
			"chromium-browser",
			"headless-shell",
		}
	case "windows":
		paths = []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files\Chromium\Application\chrome.exe`,
		}
	}

	for _, path := range paths {
		if runtime.GOOS == "darwin" {
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
			continue
		}
		if found, err := exec.LookPath(path); err == nil {
			return found, nil
		}
	}

	if path, err := exec.LookPath("chrome"); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("chrome browser not found, install Chrome or Chromium or set browser.exec_path")
}

// ChromeLauncher starts one Chrome process per session
type ChromeLauncher struct {
	opts Options
}

// NewChromeLauncher creates a launcher with the given options
func NewChromeLauncher(opts Options) *ChromeLauncher {
	def := DefaultOptions()
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = def.ActionTimeout
	}
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = def.NavTimeout
	}
	if opts.WindowWidth <= 0 || opts.WindowHeight <= 0 {
		opts.WindowWidth, opts.WindowHeight = def.WindowWidth, def.WindowHeight
	}
	if opts.ScreenQuality <= 0 {
		opts.ScreenQuality = def.ScreenQuality
	}
	return &ChromeLauncher{opts: opts}
}

// Launch starts a browser with its own allocator so no cookies or
// authenticated state leak between concurrent submissions.
func (l *ChromeLauncher) Launch(ctx context.Context) (Session, error) {
	execPath := l.opts.ExecPath
	if execPath == "" {
		found, err := findChrome()
		if err != nil {
			return nil, err
		}
		execPath = found
	}
	logging.Debug("Launching Chrome from %s (headless=%v)", execPath, l.opts.Headless)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(execPath),
		chromedp.WindowSize(l.opts.WindowWidth, l.opts.WindowHeight),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if !l.opts.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if l.opts.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.opts.UserAgent))
	}

	// The browser lifetime is owned by the session, not by the caller's ctx.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, v ...interface{}) {
			logging.Debug("[Chrome] "+format, v...)
		}),
	)

	s := &ChromeSession{
		ctx:         browserCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		opts:        l.opts,
	}
	chromedp.ListenTarget(browserCtx, s.onEvent)

	if err := chromedp.Run(browserCtx, page.Enable(), network.Enable()); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to start Chrome: %w", err)
	}
	return s, nil
}

// ChromeSession drives one Chrome tab through chromedp
type ChromeSession struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	opts        Options

	mu     sync.Mutex
	dialog *Dialog
	closed bool
}

func (s *ChromeSession) onEvent(ev interface{}) {
	if e, ok := ev.(*page.EventJavascriptDialogOpening); ok {
		s.mu.Lock()
		s.dialog = &Dialog{Type: string(e.Type), Message: e.Message, URL: e.URL}
		s.mu.Unlock()
		logging.Warn("JavaScript %s dialog opened: %s", e.Type, e.Message)
	}
}

// run executes actions with the per-action timeout on the browser's own
// context. ctx is checked before the actions start; once started they run
// until they finish or time out.
func (s *ChromeSession) run(ctx context.Context, nav bool, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	closed, dialog := s.closed, s.dialog
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	if dialog != nil {
		return &DialogError{Dialog: *dialog}
	}

	d := s.opts.ActionTimeout
	if nav {
		d = s.opts.NavTimeout
	}
	runCtx, cancel := context.WithTimeout(s.ctx, d)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func queryOpts(selector string) []chromedp.QueryOption {
	if IsXPath(selector) {
		return []chromedp.QueryOption{chromedp.BySearch}
	}
	return []chromedp.QueryOption{chromedp.ByQuery}
}

// Navigate loads url and waits for the body to be ready
func (s *ChromeSession) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, true, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// Exists reports whether selector matches at least one node right now
func (s *ChromeSession) Exists(ctx context.Context, selector string) (bool, error) {
	if err := CheckSelector(selector); err != nil {
		return false, err
	}
	var nodes []*cdp.Node
	opts := append(queryOpts(selector), chromedp.AtLeast(0))
	if err := s.run(ctx, false, chromedp.Nodes(StripXPath(selector), &nodes, opts...)); err != nil {
		return false, err
	}
	return len(nodes) > 0, nil
}

func (s *ChromeSession) require(ctx context.Context, selector string) error {
	ok, err := s.Exists(ctx, selector)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return nil
}

// applyScript sets a property on the first match and fires the events
// portals listen to for recalculation on blur.
const applyScript = `(function(sel, xpath, prop, value) {
	var el = xpath
		? document.evaluate(sel, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue
		: document.querySelector(sel);
	if (!el) { return false; }
	el.focus && el.focus();
	el[prop] = value;
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	el.blur && el.blur();
	return true;
})(%s, %t, %s, %s)`

func (s *ChromeSession) apply(ctx context.Context, selector, prop string, value interface{}) error {
	if err := s.require(ctx, selector); err != nil {
		return err
	}
	sel, _ := json.Marshal(StripXPath(selector))
	p, _ := json.Marshal(prop)
	v, err := json.Marshal(value)
	if err != nil {
		return err
	}
	var ok bool
	script := fmt.Sprintf(applyScript, sel, IsXPath(selector), p, v)
	if err := s.run(ctx, false, chromedp.Evaluate(script, &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return nil
}

// Fill types value into a text-like input, replacing what was there
func (s *ChromeSession) Fill(ctx context.Context, selector, value string) error {
	if err := s.require(ctx, selector); err != nil {
		return err
	}
	sel, opts := StripXPath(selector), queryOpts(selector)
	if err := s.run(ctx, false,
		chromedp.Focus(sel, opts...),
		chromedp.SetValue(sel, "", opts...),
		chromedp.SendKeys(sel, value, opts...),
	); err != nil {
		return err
	}
	return s.apply(ctx, selector, "value", value)
}

// Select chooses the option whose value attribute equals value
func (s *ChromeSession) Select(ctx context.Context, selector, value string) error {
	return s.apply(ctx, selector, "value", value)
}

// SetChecked sets a checkbox state
func (s *ChromeSession) SetChecked(ctx context.Context, selector string, checked bool) error {
	return s.apply(ctx, selector, "checked", checked)
}

// SetHidden writes the value of a hidden input
func (s *ChromeSession) SetHidden(ctx context.Context, selector, value string) error {
	return s.apply(ctx, selector, "value", value)
}

// Click clicks the first element matching selector
func (s *ChromeSession) Click(ctx context.Context, selector string) error {
	if err := s.require(ctx, selector); err != nil {
		return err
	}
	return s.run(ctx, false, chromedp.Click(StripXPath(selector), queryOpts(selector)...))
}

// PageHTML returns the outer HTML of the document
func (s *ChromeSession) PageHTML(ctx context.Context) (string, error) {
	var html string
	err := s.run(ctx, false, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

// CurrentURL returns the location of the page
func (s *ChromeSession) CurrentURL(ctx context.Context) (string, error) {
	var url string
	err := s.run(ctx, false, chromedp.Location(&url))
	return url, err
}

// Screenshot captures the full page as PNG or JPEG depending on quality
func (s *ChromeSession) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := s.run(ctx, false, chromedp.FullScreenshot(&buf, s.opts.ScreenQuality))
	return buf, err
}

// PendingDialog returns the dialog currently blocking the page, if any
func (s *ChromeSession) PendingDialog() (Dialog, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dialog == nil {
		return Dialog{}, false
	}
	return *s.dialog, true
}

// DismissDialog accepts or cancels the open dialog
func (s *ChromeSession) DismissDialog(ctx context.Context, accept bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.dialog == nil {
		s.mu.Unlock()
		return nil
	}
	s.dialog = nil
	s.mu.Unlock()

	runCtx, cancel := context.WithTimeout(s.ctx, s.opts.ActionTimeout)
	defer cancel()
	return chromedp.Run(runCtx, page.HandleJavaScriptDialog(accept))
}

// SetExtraHeaders attaches headers to every subsequent request, used for
// API key authentication.
func (s *ChromeSession) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	h := network.Headers{}
	for k, v := range headers {
		h[k] = v
	}
	return s.run(ctx, false, network.SetExtraHTTPHeaders(h))
}

// Close shuts down the tab and the Chrome process
func (s *ChromeSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
	return nil
}
