package studio

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"

	"github.com/dgnsrekt/fitstar_utilization/internal/browser"
	"github.com/dgnsrekt/fitstar_utilization/internal/browser/browsertest"
)

const mainURL = "https://www.fit-star.de"

func link(href string) *browsertest.Node {
	return &browsertest.Node{Attrs: map[string]string{"href": href}}
}

// mainPage builds a main page whose studios list only appears after the
// dropdown trigger is clicked.
func mainPage(links ...*browsertest.Node) *browsertest.Page {
	m := DefaultMarkup()
	list := &browsertest.Node{Children: map[string][]*browsertest.Node{m.StudioLink.Expr: links}}
	return &browsertest.Page{Nodes: map[string][]*browsertest.Node{
		m.ConsentButton.Expr: {{}},
		m.StudiosTrigger.Expr: {{
			Reveals: map[string][]*browsertest.Node{m.StudiosList.Expr: {list}},
		}},
	}}
}

func openMain(t *testing.T, page *browsertest.Page) *browsertest.Session {
	t.Helper()
	sess := browsertest.NewSession(map[string]*browsertest.Page{mainURL: page})
	if err := sess.Open(mainURL); err != nil {
		t.Fatalf("Open() = %v", err)
	}
	return sess
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDiscoverDedupesInFirstSeenOrder(t *testing.T) {
	sess := openMain(t, mainPage(
		link(mainURL+"/studios/berlin-moabit"),
		link(mainURL+"/studios/muenchen-pasing"),
		link(mainURL+"/studios/berlin-moabit"),
		link(mainURL+"/studios/koeln-ehrenfeld"),
	))

	got, err := NewDirectory(sess, DefaultMarkup(), 0, discardLogger()).Discover()
	if err != nil {
		t.Fatalf("Discover() = %v; want nil", err)
	}
	want := []Location{
		{Name: "berlin-moabit", URL: mainURL + "/studios/berlin-moabit"},
		{Name: "muenchen-pasing", URL: mainURL + "/studios/muenchen-pasing"},
		{Name: "koeln-ehrenfeld", URL: mainURL + "/studios/koeln-ehrenfeld"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Discover() = %+v; want %+v", got, want)
	}
}

func TestDiscoverClicksConsentBeforeDropdown(t *testing.T) {
	sess := openMain(t, mainPage(link(mainURL+"/studios/a")))
	if _, err := NewDirectory(sess, DefaultMarkup(), 0, discardLogger()).Discover(); err != nil {
		t.Fatalf("Discover() = %v", err)
	}
	m := DefaultMarkup()
	want := []string{
		"open " + mainURL,
		"wait " + m.ConsentButton.Expr,
		"find " + m.StudiosTrigger.Expr,
		"find " + m.StudiosList.Expr,
	}
	if !reflect.DeepEqual(sess.Events, want) {
		t.Fatalf("events = %q; want %q", sess.Events, want)
	}
}

func TestDiscoverConsentTimeoutIsFatal(t *testing.T) {
	page := mainPage(link(mainURL + "/studios/a"))
	delete(page.Nodes, DefaultMarkup().ConsentButton.Expr)
	sess := openMain(t, page)

	_, err := NewDirectory(sess, DefaultMarkup(), 0, discardLogger()).Discover()
	if !errors.Is(err, browser.ErrNotFound) {
		t.Fatalf("Discover() = %v; want ErrNotFound", err)
	}
	if got := sess.EventsWithPrefix("find "); len(got) != 0 {
		t.Fatalf("lookups after consent timeout = %q; want none", got)
	}
}

func TestDiscoverMissingContainerIsFatal(t *testing.T) {
	m := DefaultMarkup()
	page := mainPage()
	page.Nodes[m.StudiosTrigger.Expr] = []*browsertest.Node{{}}
	sess := openMain(t, page)

	_, err := NewDirectory(sess, m, 0, discardLogger()).Discover()
	if err == nil {
		t.Fatal("Discover() = nil; want error")
	}
	if !strings.Contains(err.Error(), "studio list") {
		t.Fatalf("Discover() = %v; want studio list error", err)
	}
}

func TestDiscoverDropsDuplicateNames(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sess := openMain(t, mainPage(
		link(mainURL+"/studios/berlin"),
		link(mainURL+"/kurse/berlin"),
		link(mainURL+"/"),
	))

	got, err := NewDirectory(sess, DefaultMarkup(), 0, logger).Discover()
	if err != nil {
		t.Fatalf("Discover() = %v", err)
	}
	want := []Location{{Name: "berlin", URL: mainURL + "/studios/berlin"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Discover() = %+v; want %+v", got, want)
	}
	if !strings.Contains(buf.String(), "skipping duplicate studio name") {
		t.Fatalf("expected duplicate name warning, got %q", buf.String())
	}
}

func TestNameFromURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "https://www.fit-star.de/studios/berlin-moabit", want: "berlin-moabit"},
		{in: "https://www.fit-star.de/studios/berlin-moabit/", want: "berlin-moabit"},
		{in: "https://www.fit-star.de/studios/muenchen?tab=1", want: "muenchen"},
		{in: "/studios/koeln", want: "koeln"},
		{in: "https://www.fit-star.de/", want: ""},
	}
	for _, tt := range tests {
		if got := NameFromURL(tt.in); got != tt.want {
			t.Errorf("NameFromURL(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestDedupe(t *testing.T) {
	got := Dedupe([]string{"A", "B", "A", "C", "", " B "})
	want := []string{"A", "B", "C"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Dedupe() = %q; want %q", got, want)
	}
}

func TestFilterLogsSkipped(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	locs := []Location{
		{Name: "berlin-moabit"},
		{Name: "muenchen-pasing"},
		{Name: "berlin-mitte"},
	}

	got := Filter(locs, "berlin", logger)
	want := []Location{{Name: "berlin-moabit"}, {Name: "berlin-mitte"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Filter() = %+v; want %+v", got, want)
	}
	out := buf.String()
	if !strings.Contains(out, "skipping studio due to filter") || !strings.Contains(out, "muenchen-pasing") {
		t.Fatalf("expected skip log for muenchen-pasing, got %q", out)
	}
	if strings.Contains(out, "level=ERROR") || strings.Contains(out, "level=WARN") {
		t.Fatalf("filter skips must not log as warnings or errors: %q", out)
	}
}

func TestFilterEmptyKeepsAll(t *testing.T) {
	locs := []Location{{Name: "a"}, {Name: "b"}}
	if got := Filter(locs, "", nil); !reflect.DeepEqual(got, locs) {
		t.Fatalf("Filter() = %+v; want %+v", got, locs)
	}
}
