// Package browsertest provides an in-memory browser.Session for exercising
// discovery and collection without a real browser.
package browsertest

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/fitstar_utilization/internal/browser"
)

// Node is a fake DOM element.
type Node struct {
	Text  string
	Attrs map[string]string
	// Disabled nodes are found but never become clickable.
	Disabled bool
	// Children are returned by FindAll on this node, keyed by locator expression.
	Children map[string][]*Node
	// Reveals are added to the owning page when the node is clicked.
	Reveals map[string][]*Node
	// TextErr and ClickErr inject failures.
	TextErr  error
	ClickErr error
}

// Page is the fake DOM of one URL, keyed by locator expression.
type Page struct {
	Nodes map[string][]*Node
}

func (p *Page) clone() *Page {
	out := &Page{Nodes: make(map[string][]*Node, len(p.Nodes))}
	for k, v := range p.Nodes {
		out.Nodes[k] = append([]*Node(nil), v...)
	}
	return out
}

type tab struct {
	name string
	url  string
	page *Page
}

// Session implements browser.Session over a fixed set of pages. Each tab
// gets its own copy of the page it navigates to, so clicks in one tab do
// not leak into another.
type Session struct {
	Pages map[string]*Page
	// OpenErr maps URLs to navigation failures.
	OpenErr map[string]error

	mu       sync.Mutex
	tabs     map[browser.TabHandle]*tab
	order    int
	active   browser.TabHandle
	shutdown bool

	// Events records every primitive call, e.g. "open https://x", "create berlin".
	Events []string
	// ActiveAtCreate records the active tab at each CreateTab call.
	ActiveAtCreate []browser.TabHandle
	// Navigations counts Open calls.
	Navigations int
}

const mainHandle browser.TabHandle = "main"

var _ browser.Session = (*Session)(nil)

func NewSession(pages map[string]*Page) *Session {
	if pages == nil {
		pages = map[string]*Page{}
	}
	return &Session{
		Pages:   pages,
		OpenErr: map[string]error{},
		tabs:    map[browser.TabHandle]*tab{mainHandle: {name: "main", url: "about:blank"}},
		active:  mainHandle,
	}
}

func (s *Session) record(format string, args ...any) {
	s.Events = append(s.Events, fmt.Sprintf(format, args...))
}

func (s *Session) MainTab() browser.TabHandle { return mainHandle }

func (s *Session) ActiveTab() browser.TabHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// OpenTabs reports how many tabs, including main, are still open.
func (s *Session) OpenTabs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tabs)
}

func (s *Session) IsShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

func (s *Session) current() (*tab, error) {
	if s.shutdown {
		return nil, fmt.Errorf("session is shut down")
	}
	t, ok := s.tabs[s.active]
	if !ok {
		return nil, fmt.Errorf("%w: no active tab", browser.ErrTabNotFound)
	}
	return t, nil
}

func (s *Session) Open(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("open %s", url)
	s.Navigations++
	t, err := s.current()
	if err != nil {
		return err
	}
	if err := s.OpenErr[url]; err != nil {
		return err
	}
	t.url = url
	if p, ok := s.Pages[url]; ok {
		t.page = p.clone()
	} else {
		t.page = &Page{Nodes: map[string][]*Node{}}
	}
	return nil
}

func (s *Session) CreateTab(name string) (browser.TabHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return "", fmt.Errorf("session is shut down")
	}
	s.order++
	h := browser.TabHandle(fmt.Sprintf("tab-%d", s.order))
	s.tabs[h] = &tab{name: name, url: "about:blank"}
	s.ActiveAtCreate = append(s.ActiveAtCreate, s.active)
	s.record("create %s", name)
	return h, nil
}

func (s *Session) SwitchTab(h browser.TabHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("switch %s", h)
	if _, ok := s.tabs[h]; !ok {
		return fmt.Errorf("%w: %s", browser.ErrTabNotFound, h)
	}
	s.active = h
	return nil
}

func (s *Session) CloseTab(h browser.TabHandle) error {
	if err := s.SwitchTab(h); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if h == mainHandle {
		return fmt.Errorf("refusing to close the main tab")
	}
	s.record("close %s", h)
	delete(s.tabs, h)
	s.active = ""
	return nil
}

func (s *Session) WaitForClickable(loc browser.Locator, timeout time.Duration) (browser.Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("wait %s", loc.Expr)
	t, err := s.current()
	if err != nil {
		return nil, err
	}
	nodes := t.lookup(loc)
	if len(nodes) == 0 || nodes[0].Disabled {
		return nil, fmt.Errorf("%w: %s not clickable within %s", browser.ErrNotFound, loc, timeout)
	}
	return &element{session: s, tab: t, node: nodes[0]}, nil
}

func (s *Session) Find(loc browser.Locator) (browser.Element, error) {
	elems, err := s.FindAll(loc)
	if err != nil {
		return nil, err
	}
	return elems[0], nil
}

func (s *Session) FindAll(loc browser.Locator) ([]browser.Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("find %s", loc.Expr)
	t, err := s.current()
	if err != nil {
		return nil, err
	}
	nodes := t.lookup(loc)
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: %s", browser.ErrNotFound, loc)
	}
	return wrap(s, t, nodes), nil
}

func (s *Session) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return nil
	}
	s.record("shutdown")
	s.shutdown = true
	s.tabs = map[browser.TabHandle]*tab{}
	s.active = ""
	return nil
}

// EventsWithPrefix returns the recorded events starting with prefix.
func (s *Session) EventsWithPrefix(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, ev := range s.Events {
		if strings.HasPrefix(ev, prefix) {
			out = append(out, ev)
		}
	}
	return out
}

func (t *tab) lookup(loc browser.Locator) []*Node {
	if t.page == nil {
		return nil
	}
	return t.page.Nodes[loc.Expr]
}

type element struct {
	session *Session
	tab     *tab
	node    *Node
}

func wrap(s *Session, t *tab, nodes []*Node) []browser.Element {
	out := make([]browser.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &element{session: s, tab: t, node: n})
	}
	return out
}

func (e *element) Text() (string, error) {
	if e.node.TextErr != nil {
		return "", e.node.TextErr
	}
	return e.node.Text, nil
}

func (e *element) Attribute(name string) (string, error) {
	v, ok := e.node.Attrs[name]
	if !ok {
		return "", fmt.Errorf("attribute %q not set", name)
	}
	return v, nil
}

func (e *element) Click() error {
	if e.node.ClickErr != nil {
		return e.node.ClickErr
	}
	e.session.mu.Lock()
	defer e.session.mu.Unlock()
	if e.tab.page == nil {
		return nil
	}
	for expr, nodes := range e.node.Reveals {
		e.tab.page.Nodes[expr] = append(e.tab.page.Nodes[expr], nodes...)
	}
	return nil
}

func (e *element) FindAll(loc browser.Locator) ([]browser.Element, error) {
	nodes := e.node.Children[loc.Expr]
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: %s", browser.ErrNotFound, loc)
	}
	return wrap(e.session, e.tab, nodes), nil
}
