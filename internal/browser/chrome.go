package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

const (
	ModeExec   = "exec"
	ModeRemote = "remote"
)

// SessionConfig selects how ChromeSession obtains a browser.
type SessionConfig struct {
	// Mode is ModeExec (chromedp starts Chromium itself) or ModeRemote
	// (attach to an already running CDP endpoint).
	Mode       string
	CDPURL     string
	Headless   bool
	NoSandbox  bool
	ExecPath   string
	ProfileDir string
}

// ChromeSession implements Session on top of chromedp. Every tab owns its
// own chromedp context; the first one is the main tab.
type ChromeSession struct {
	logger      *slog.Logger
	allocCancel context.CancelFunc
	tabs        *TabRegistry

	mu     sync.Mutex
	main   TabHandle
	active TabHandle
	closed bool
}

var _ Session = (*ChromeSession)(nil)

// NewChromeSession starts or attaches to a browser and opens the main tab.
func NewChromeSession(ctx context.Context, cfg SessionConfig, logger *slog.Logger) (*ChromeSession, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	switch cfg.Mode {
	case ModeRemote:
		if cfg.CDPURL == "" {
			return nil, errors.New("remote browser mode requires a CDP URL")
		}
		logger.Info("attaching to browser", "cdp_url", cfg.CDPURL)
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, cfg.CDPURL)
	case ModeExec, "":
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", cfg.Headless),
			chromedp.WindowSize(1920, 1080),
		)
		if cfg.NoSandbox {
			opts = append(opts, chromedp.NoSandbox)
		}
		if cfg.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
		}
		if cfg.ProfileDir != "" {
			opts = append(opts, chromedp.UserDataDir(cfg.ProfileDir))
		}
		logger.Info("starting browser", "headless", cfg.Headless, "exec_path", cfg.ExecPath)
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown browser mode %q", cfg.Mode)
	}

	mainCtx, mainCancel := chromedp.NewContext(allocCtx, chromedp.WithErrorf(func(format string, args ...any) {
		logger.Debug("chromedp error", "detail", fmt.Sprintf(format, args...))
	}))
	if err := chromedp.Run(mainCtx); err != nil {
		mainCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	handle := TabHandle(chromedp.FromContext(mainCtx).Target.TargetID)
	s := &ChromeSession{
		logger:      logger,
		allocCancel: allocCancel,
		tabs:        NewTabRegistry(),
		main:        handle,
		active:      handle,
	}
	s.tabs.Register(&tabEntry{Handle: handle, Name: "main", ctx: mainCtx, cancel: mainCancel})
	logger.Debug("browser main tab ready", "handle", handle)
	return s, nil
}

func (s *ChromeSession) MainTab() TabHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.main
}

func (s *ChromeSession) ActiveTab() TabHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *ChromeSession) activeEntry() (*tabEntry, error) {
	s.mu.Lock()
	active, closed := s.active, s.closed
	s.mu.Unlock()
	if closed {
		return nil, errors.New("browser session is shut down")
	}
	entry, ok := s.tabs.Get(active)
	if !ok {
		return nil, fmt.Errorf("%w: no active tab", ErrTabNotFound)
	}
	return entry, nil
}

func (s *ChromeSession) Open(url string) error {
	entry, err := s.activeEntry()
	if err != nil {
		return err
	}
	if err := chromedp.Run(entry.ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	s.tabs.SetURL(entry.Handle, url)
	s.logger.Debug("navigated", "handle", entry.Handle, "url", url)
	return nil
}

func (s *ChromeSession) CreateTab(name string) (TabHandle, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return "", errors.New("browser session is shut down")
	}
	mainEntry, ok := s.tabs.Get(s.MainTab())
	if !ok {
		return "", fmt.Errorf("%w: main tab", ErrTabNotFound)
	}

	tabCtx, tabCancel := chromedp.NewContext(mainEntry.ctx)
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return "", fmt.Errorf("create tab %s: %w", name, err)
	}
	handle := TabHandle(chromedp.FromContext(tabCtx).Target.TargetID)
	s.tabs.Register(&tabEntry{Handle: handle, Name: name, URL: "about:blank", ctx: tabCtx, cancel: tabCancel})
	s.logger.Debug("tab created", "name", name, "handle", handle, "tabs", s.tabs.Count())
	return handle, nil
}

func (s *ChromeSession) SwitchTab(h TabHandle) error {
	entry, ok := s.tabs.Get(h)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTabNotFound, h)
	}
	if err := chromedp.Run(entry.ctx, page.BringToFront()); err != nil {
		return fmt.Errorf("switch to tab %s: %w", h, err)
	}
	s.mu.Lock()
	s.active = h
	s.mu.Unlock()
	return nil
}

// CloseTab switches to h and closes it. The active tab is left unset until
// the caller switches elsewhere.
func (s *ChromeSession) CloseTab(h TabHandle) error {
	if h == s.MainTab() {
		return errors.New("refusing to close the main tab")
	}
	// The tab is released even when the switch fails, so a crashed page
	// does not hold its target until Shutdown.
	switchErr := s.SwitchTab(h)
	entry, ok := s.tabs.Remove(h)
	if !ok {
		return switchErr
	}
	s.mu.Lock()
	if s.active == h {
		s.active = ""
	}
	s.mu.Unlock()

	err := chromedp.Cancel(entry.ctx)
	entry.cancel()
	if switchErr != nil {
		s.logger.Debug("tab released after failed switch", "name", entry.Name, "handle", h, "tabs", s.tabs.Count())
		return switchErr
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close tab %s: %w", h, err)
	}
	s.logger.Debug("tab closed", "name", entry.Name, "handle", h, "tabs", s.tabs.Count())
	return nil
}

func (s *ChromeSession) WaitForClickable(loc Locator, timeout time.Duration) (Element, error) {
	entry, err := s.activeEntry()
	if err != nil {
		return nil, err
	}
	waitCtx, cancel := context.WithTimeout(entry.ctx, timeout)
	defer cancel()

	by := queryOption(loc)
	var nodes []*cdp.Node
	err = chromedp.Run(waitCtx,
		chromedp.WaitVisible(loc.Expr, by),
		chromedp.WaitEnabled(loc.Expr, by),
		chromedp.Nodes(loc.Expr, &nodes, by),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s not clickable within %s", ErrNotFound, loc, timeout)
		}
		return nil, fmt.Errorf("wait for %s: %w", loc, err)
	}
	if len(nodes) == 0 {
		return nil, notFound(loc)
	}
	return &chromeElement{ctx: entry.ctx, node: nodes[0]}, nil
}

func (s *ChromeSession) Find(loc Locator) (Element, error) {
	elems, err := s.FindAll(loc)
	if err != nil {
		return nil, err
	}
	return elems[0], nil
}

func (s *ChromeSession) FindAll(loc Locator) ([]Element, error) {
	entry, err := s.activeEntry()
	if err != nil {
		return nil, err
	}
	nodes, err := lookupNodes(entry.ctx, loc, queryAllOption(loc))
	if err != nil {
		return nil, err
	}
	return wrapNodes(entry.ctx, nodes), nil
}

// Shutdown closes every tab and the browser. It is safe to call more than once.
func (s *ChromeSession) Shutdown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	main := s.main
	s.active = ""
	s.mu.Unlock()

	var mainEntry *tabEntry
	for _, entry := range s.tabs.Drain() {
		if entry.Handle == main {
			mainEntry = entry
			continue
		}
		if err := chromedp.Cancel(entry.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Debug("tab close during shutdown failed", "handle", entry.Handle, "error", err)
		}
		entry.cancel()
	}

	var err error
	if mainEntry != nil {
		if cancelErr := chromedp.Cancel(mainEntry.ctx); cancelErr != nil && !errors.Is(cancelErr, context.Canceled) {
			err = fmt.Errorf("close browser: %w", cancelErr)
		}
		mainEntry.cancel()
	}
	s.allocCancel()
	s.logger.Info("browser session closed")
	return err
}

type chromeElement struct {
	ctx  context.Context
	node *cdp.Node
}

func (e *chromeElement) Text() (string, error) {
	return e.Attribute("innerText")
}

func (e *chromeElement) Attribute(name string) (string, error) {
	var value string
	err := chromedp.Run(e.ctx, chromedp.JavascriptAttribute([]cdp.NodeID{e.node.NodeID}, name, &value, chromedp.ByNodeID))
	if err != nil {
		return "", fmt.Errorf("read %s of <%s>: %w", name, e.node.LocalName, err)
	}
	return value, nil
}

func (e *chromeElement) Click() error {
	if err := chromedp.Run(e.ctx, chromedp.MouseClickNode(e.node)); err != nil {
		return fmt.Errorf("click <%s>: %w", e.node.LocalName, err)
	}
	return nil
}

func (e *chromeElement) FindAll(loc Locator) ([]Element, error) {
	if loc.Strategy != ByCSS {
		return nil, fmt.Errorf("descendant lookup requires a css locator, got %s", loc)
	}
	nodes, err := lookupNodes(e.ctx, loc, chromedp.ByQueryAll, chromedp.FromNode(e.node))
	if err != nil {
		return nil, err
	}
	return wrapNodes(e.ctx, nodes), nil
}

// lookupNodes resolves loc without waiting for it to appear.
func lookupNodes(ctx context.Context, loc Locator, opts ...chromedp.QueryOption) ([]*cdp.Node, error) {
	var nodes []*cdp.Node
	opts = append(opts, chromedp.AtLeast(0))
	if err := chromedp.Run(ctx, chromedp.Nodes(loc.Expr, &nodes, opts...)); err != nil {
		return nil, fmt.Errorf("lookup %s: %w", loc, err)
	}
	if len(nodes) == 0 {
		return nil, notFound(loc)
	}
	return nodes, nil
}

func wrapNodes(ctx context.Context, nodes []*cdp.Node) []Element {
	out := make([]Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &chromeElement{ctx: ctx, node: n})
	}
	return out
}

func queryOption(loc Locator) chromedp.QueryOption {
	if loc.Strategy == ByCSS {
		return chromedp.ByQuery
	}
	return chromedp.BySearch
}

func queryAllOption(loc Locator) chromedp.QueryOption {
	if loc.Strategy == ByCSS {
		return chromedp.ByQueryAll
	}
	return chromedp.BySearch
}
