package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"

	"github.com/dgnsrekt/fitstar_utilization/internal/browser"
	"github.com/dgnsrekt/fitstar_utilization/internal/browser/browsertest"
	"github.com/dgnsrekt/fitstar_utilization/internal/influx"
	"github.com/dgnsrekt/fitstar_utilization/internal/studio"
)

const siteURL = "https://www.fit-star.de"

type stubStore struct {
	err   error
	calls int
}

func (s *stubStore) Setup(ctx context.Context) error {
	s.calls++
	return s.err
}

type stubWriter struct {
	err     error
	records [][]influx.Record
}

func (w *stubWriter) Write(ctx context.Context, records []influx.Record) error {
	w.records = append(w.records, records)
	return w.err
}

func studioURL(name string) string { return siteURL + "/studios/" + name }

// site builds a fake site with the given studio pages. A studio mapped to
// "" has no utilization element.
func site(studios []string, values map[string]string) *browsertest.Session {
	m := studio.DefaultMarkup()
	var links []*browsertest.Node
	pages := map[string]*browsertest.Page{}
	for _, name := range studios {
		links = append(links, &browsertest.Node{Attrs: map[string]string{"href": studioURL(name)}})
		page := &browsertest.Page{Nodes: map[string][]*browsertest.Node{}}
		if v := values[name]; v != "" {
			page.Nodes[m.Percentage.Expr] = []*browsertest.Node{{Text: v}}
		}
		pages[studioURL(name)] = page
	}
	list := &browsertest.Node{Children: map[string][]*browsertest.Node{m.StudioLink.Expr: links}}
	pages[siteURL] = &browsertest.Page{Nodes: map[string][]*browsertest.Node{
		m.ConsentButton.Expr:  {{}},
		m.StudiosTrigger.Expr: {{Reveals: map[string][]*browsertest.Node{m.StudiosList.Expr: {list}}}},
	}}
	return browsertest.NewSession(pages)
}

func factory(sess *browsertest.Session, opened *int) BrowserFactory {
	return func(ctx context.Context) (browser.Session, error) {
		*opened++
		return sess, nil
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunWritesReadingsInDiscoveryOrder(t *testing.T) {
	sess := site([]string{"a", "b", "a", "c"}, map[string]string{"a": "10%", "b": "", "c": "30%"})
	store, writer := &stubStore{}, &stubWriter{}
	var opened int

	res, err := New(Options{SiteURL: siteURL}, store, writer, factory(sess, &opened), discardLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() = %v; want nil", err)
	}
	if len(writer.records) != 1 {
		t.Fatalf("writer calls = %d; want exactly 1", len(writer.records))
	}
	var got []string
	for _, r := range writer.records[0] {
		got = append(got, r.Tags[0].Value)
	}
	if want := []string{"a", "c"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("written studios = %q; want %q", got, want)
	}
	if res.Discovered != 3 || res.Selected != 3 || res.Written != 2 || res.Summary.Missing != 1 {
		t.Fatalf("Run() result = %+v; want 3 discovered, 3 selected, 2 written, 1 missing", res)
	}
	if !sess.IsShutdown() {
		t.Fatal("browser session was not shut down")
	}
}

func TestRunFilterOnlyOpensMatchingStudios(t *testing.T) {
	sess := site([]string{"berlin-moabit", "muenchen-pasing", "berlin-mitte"},
		map[string]string{"berlin-moabit": "1%", "muenchen-pasing": "2%", "berlin-mitte": "3%"})
	writer := &stubWriter{}
	var opened int

	res, err := New(Options{SiteURL: siteURL, Filter: "berlin"}, &stubStore{}, writer, factory(sess, &opened), discardLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	for _, ev := range sess.EventsWithPrefix("open ") {
		if strings.Contains(ev, "muenchen") {
			t.Fatalf("filtered studio was opened: %q", ev)
		}
	}
	if res.Selected != 2 || len(writer.records[0]) != 2 {
		t.Fatalf("Run() selected = %d, written = %d; want 2 and 2", res.Selected, len(writer.records[0]))
	}
}

func TestRunStoreSetupFailurePreventsNavigation(t *testing.T) {
	sess := site([]string{"a"}, map[string]string{"a": "1%"})
	store := &stubStore{err: errors.New("connection refused")}
	writer := &stubWriter{}
	var opened int

	_, err := New(Options{SiteURL: siteURL}, store, writer, factory(sess, &opened), discardLogger()).Run(context.Background())
	if !IsSetupError(err) {
		t.Fatalf("Run() = %v; want store setup error", err)
	}
	if opened != 0 || sess.Navigations != 0 {
		t.Fatalf("browser opened %d times with %d navigations; want none", opened, sess.Navigations)
	}
	if len(writer.records) != 0 {
		t.Fatal("writer called after setup failure")
	}
}

func TestRunDiscoveryFailureIsFatal(t *testing.T) {
	sess := site(nil, nil)
	delete(sess.Pages[siteURL].Nodes, studio.DefaultMarkup().ConsentButton.Expr)
	writer := &stubWriter{}
	var opened int

	_, err := New(Options{SiteURL: siteURL}, &stubStore{}, writer, factory(sess, &opened), discardLogger()).Run(context.Background())
	var ce *CodedError
	if !errors.As(err, &ce) || ce.Code != CodeDiscovery {
		t.Fatalf("Run() = %v; want %s", err, CodeDiscovery)
	}
	if !errors.Is(err, browser.ErrNotFound) {
		t.Fatalf("Run() = %v; want wrapped ErrNotFound", err)
	}
	if len(writer.records) != 0 {
		t.Fatal("writer called after discovery failure")
	}
	if !sess.IsShutdown() {
		t.Fatal("browser session was not shut down after fatal discovery error")
	}
}

func TestRunWriteFailureIsSurfaced(t *testing.T) {
	sess := site([]string{"a"}, map[string]string{"a": "1%"})
	writer := &stubWriter{err: errors.New("status=500")}
	var opened int

	res, err := New(Options{SiteURL: siteURL}, &stubStore{}, writer, factory(sess, &opened), discardLogger()).Run(context.Background())
	var ce *CodedError
	if !errors.As(err, &ce) || ce.Code != CodeStoreWrite {
		t.Fatalf("Run() = %v; want %s", err, CodeStoreWrite)
	}
	if res.Written != 0 {
		t.Fatalf("Run() written = %d; want 0", res.Written)
	}
	if len(writer.records) != 1 {
		t.Fatalf("writer calls = %d; want 1 with no retry", len(writer.records))
	}
}

func TestRunBrowserStartFailure(t *testing.T) {
	open := func(ctx context.Context) (browser.Session, error) {
		return nil, errors.New("no supported browser found")
	}
	_, err := New(Options{SiteURL: siteURL}, &stubStore{}, &stubWriter{}, open, discardLogger()).Run(context.Background())
	var ce *CodedError
	if !errors.As(err, &ce) || ce.Code != CodeBrowserStart {
		t.Fatalf("Run() = %v; want %s", err, CodeBrowserStart)
	}
}

func TestRunDryRunPrintsLinesWithoutStore(t *testing.T) {
	sess := site([]string{"berlin-moabit"}, map[string]string{"berlin-moabit": "42%"})
	store, writer := &stubStore{}, &stubWriter{}
	var out bytes.Buffer
	var opened int

	res, err := New(Options{SiteURL: siteURL, DryRun: true, Output: &out}, store, writer, factory(sess, &opened), discardLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if store.calls != 0 || len(writer.records) != 0 {
		t.Fatalf("store setup calls = %d, writes = %d; want none in dry run", store.calls, len(writer.records))
	}
	if !res.DryRun || !strings.HasPrefix(out.String(), "utilization,studio=berlin-moabit utilization=42 ") {
		t.Fatalf("dry run output = %q", out.String())
	}
}

func TestCodedErrorFormatting(t *testing.T) {
	err := newError(CodeStoreSetup, "store setup failed", errors.New("refused"))
	if got, want := err.Error(), "STORE_SETUP: store setup failed: refused"; got != want {
		t.Fatalf("Error() = %q; want %q", got, want)
	}
	if got, want := newError(CodeCollect, "x", nil).Error(), "COLLECT: x"; got != want {
		t.Fatalf("Error() = %q; want %q", got, want)
	}
}
