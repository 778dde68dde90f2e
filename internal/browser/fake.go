package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// FakePage is one canned page served by FakeSession
type FakePage struct {
	HTML string
	// Clicks maps a selector to the URL the click navigates to
	Clicks map[string]string
	// Dialog opens as soon as the page loads
	Dialog *Dialog
}

// FakeSession is an in-memory Session over canned HTML. Selectors are
// evaluated with goquery so fallback behavior matches a real page.
type FakeSession struct {
	Pages map[string]*FakePage
	// Hook runs before every action with a short description of the call
	Hook func(call string)

	mu      sync.Mutex
	url     string
	dialog  *Dialog
	closed  bool
	calls   []string
	values  map[string]string
	checked map[string]bool
	headers map[string]string
	shots   int
}

// NewFakeSession creates a fake browser serving pages keyed by URL
func NewFakeSession(pages map[string]*FakePage) *FakeSession {
	return &FakeSession{
		Pages:   pages,
		values:  map[string]string{},
		checked: map[string]bool{},
		headers: map[string]string{},
	}
}

func (f *FakeSession) begin(call string) error {
	if f.Hook != nil {
		f.Hook(call)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if f.closed {
		return ErrSessionClosed
	}
	if f.dialog != nil && !strings.HasPrefix(call, "dismiss") {
		return &DialogError{Dialog: *f.dialog}
	}
	return nil
}

func (f *FakeSession) load(url string) error {
	p, ok := f.Pages[url]
	if !ok {
		return fmt.Errorf("failed to navigate to %s: net::ERR_NAME_NOT_RESOLVED", url)
	}
	f.url = url
	if p.Dialog != nil {
		d := *p.Dialog
		f.dialog = &d
	}
	return nil
}

func (f *FakeSession) current() *FakePage {
	if p, ok := f.Pages[f.url]; ok {
		return p
	}
	return &FakePage{}
}

func (f *FakeSession) find(selector string) int {
	if IsXPath(selector) {
		return 0
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(f.current().HTML))
	if err != nil {
		return 0
	}
	return doc.Find(selector).Length()
}

func (f *FakeSession) Navigate(ctx context.Context, url string) error {
	if err := f.begin("navigate " + url); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load(url)
}

func (f *FakeSession) Exists(ctx context.Context, selector string) (bool, error) {
	if err := f.begin("exists " + selector); err != nil {
		return false, err
	}
	if err := CheckSelector(selector); err != nil {
		return false, fmt.Errorf("DOM error while querying: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(selector) > 0, nil
}

func (f *FakeSession) set(call, selector string, apply func()) error {
	if err := f.begin(call); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.find(selector) == 0 {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	apply()
	return nil
}

func (f *FakeSession) Fill(ctx context.Context, selector, value string) error {
	return f.set("fill "+selector, selector, func() { f.values[selector] = value })
}

func (f *FakeSession) Select(ctx context.Context, selector, value string) error {
	return f.set("select "+selector, selector, func() { f.values[selector] = value })
}

func (f *FakeSession) SetChecked(ctx context.Context, selector string, checked bool) error {
	return f.set("check "+selector, selector, func() { f.checked[selector] = checked })
}

func (f *FakeSession) SetHidden(ctx context.Context, selector, value string) error {
	return f.set("hidden "+selector, selector, func() { f.values[selector] = value })
}

func (f *FakeSession) Click(ctx context.Context, selector string) error {
	if err := f.begin("click " + selector); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.find(selector) == 0 {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	if next, ok := f.current().Clicks[selector]; ok {
		return f.load(next)
	}
	return nil
}

func (f *FakeSession) PageHTML(ctx context.Context) (string, error) {
	if err := f.begin("html"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current().HTML, nil
}

func (f *FakeSession) CurrentURL(ctx context.Context) (string, error) {
	if err := f.begin("url"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url, nil
}

func (f *FakeSession) Screenshot(ctx context.Context) ([]byte, error) {
	if err := f.begin("screenshot"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shots++
	return []byte(fmt.Sprintf("PNG:%s#%d", f.url, f.shots)), nil
}

func (f *FakeSession) PendingDialog() (Dialog, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dialog == nil {
		return Dialog{}, false
	}
	return *f.dialog, true
}

func (f *FakeSession) DismissDialog(ctx context.Context, accept bool) error {
	if err := f.begin(fmt.Sprintf("dismiss accept=%v", accept)); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialog = nil
	if p, ok := f.Pages[f.url]; ok {
		p.Dialog = nil
	}
	return nil
}

func (f *FakeSession) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	if err := f.begin("headers"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range headers {
		f.headers[k] = v
	}
	return nil
}

func (f *FakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// SetHTML replaces the HTML of a served page
func (f *FakeSession) SetHTML(url, htmlContent string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.Pages[url]; ok {
		p.HTML = htmlContent
		return
	}
	f.Pages[url] = &FakePage{HTML: htmlContent}
}

// Calls returns every action attempted, in order
func (f *FakeSession) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Value returns what was written into selector
func (f *FakeSession) Value(selector string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[selector]
	return v, ok
}

// Checked returns the checkbox state written into selector
func (f *FakeSession) Checked(selector string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checked[selector]
}

// Header returns an extra header set on the session
func (f *FakeSession) Header(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.headers[name]
}

// IsClosed reports whether Close was called
func (f *FakeSession) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// FakeLauncher hands out a prepared session, or builds one per launch
type FakeLauncher struct {
	New func() *FakeSession
	Err error

	mu       sync.Mutex
	launched []*FakeSession
}

func (l *FakeLauncher) Launch(ctx context.Context) (Session, error) {
	if l.Err != nil {
		return nil, l.Err
	}
	s := l.New()
	l.mu.Lock()
	l.launched = append(l.launched, s)
	l.mu.Unlock()
	return s, nil
}

// Launched returns every session handed out so far
func (l *FakeLauncher) Launched() []*FakeSession {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*FakeSession(nil), l.launched...)
}
