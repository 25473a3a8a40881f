package browser

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when an element is absent or never became interactable.
var ErrNotFound = errors.New("element not found")

// ErrTabNotFound is returned when a tab handle is unknown to the session.
var ErrTabNotFound = errors.New("tab not found")

// Strategy selects how a Locator expression is evaluated.
type Strategy int

const (
	ByXPath Strategy = iota
	ByCSS
)

// Locator identifies elements on a page.
type Locator struct {
	Strategy Strategy
	Expr     string
}

func XPath(expr string) Locator { return Locator{Strategy: ByXPath, Expr: expr} }

func CSS(expr string) Locator { return Locator{Strategy: ByCSS, Expr: expr} }

func (l Locator) String() string {
	if l.Strategy == ByCSS {
		return "css=" + l.Expr
	}
	return "xpath=" + l.Expr
}

// TabHandle identifies one browser tab within a Session.
type TabHandle string

// Element is a resolved page element.
type Element interface {
	Text() (string, error)
	// Attribute returns the element's DOM property, so href comes back absolute.
	Attribute(name string) (string, error)
	Click() error
	// FindAll runs an immediate descendant lookup.
	FindAll(loc Locator) ([]Element, error)
}

// Session is the browser capability shared by discovery and collection.
//
// Lookups run against the active tab. CloseTab switches to the tab before
// closing it and leaves the caller responsible for switching back to the
// main tab.
type Session interface {
	Open(url string) error
	CreateTab(name string) (TabHandle, error)
	SwitchTab(h TabHandle) error
	CloseTab(h TabHandle) error
	ActiveTab() TabHandle
	MainTab() TabHandle
	WaitForClickable(loc Locator, timeout time.Duration) (Element, error)
	Find(loc Locator) (Element, error)
	FindAll(loc Locator) ([]Element, error)
	Shutdown() error
}

func notFound(loc Locator) error {
	return fmt.Errorf("%w: %s", ErrNotFound, loc)
}
