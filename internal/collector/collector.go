// Package collector reads the live utilization percentage of each studio page.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dgnsrekt/fitstar_utilization/internal/browser"
	"github.com/dgnsrekt/fitstar_utilization/internal/studio"
)

// Reading is one captured utilization value.
type Reading struct {
	Location   string    `json:"location"`
	Percentage int       `json:"percentage"`
	CapturedAt time.Time `json:"captured_at"`
}

// Summary counts per-location outcomes of one Collect call.
type Summary struct {
	Attempted int `json:"attempted"`
	Collected int `json:"collected"`
	Missing   int `json:"missing"`
	Failed    int `json:"failed"`
}

// ErrInvalidPercentage is returned for text that is not a 0-100 percentage.
var ErrInvalidPercentage = errors.New("invalid utilization percentage")

// Collector visits each location in its own tab.
type Collector struct {
	session    browser.Session
	percentage browser.Locator
	now        func() time.Time
	logger     *slog.Logger
}

type Option func(*Collector)

// WithClock replaces time.Now for reading timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

func New(session browser.Session, percentage browser.Locator, logger *slog.Logger, opts ...Option) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Collector{session: session, percentage: percentage, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect returns readings in location order. A location that fails only
// costs its own reading; Collect itself fails when ctx is done or when the
// session can no longer return to the main tab.
func (c *Collector) Collect(ctx context.Context, locations []studio.Location) ([]Reading, Summary, error) {
	var (
		readings = make([]Reading, 0, len(locations))
		summary  Summary
	)
	main := c.session.MainTab()

	for _, loc := range locations {
		if err := ctx.Err(); err != nil {
			return readings, summary, err
		}
		summary.Attempted++

		reading, err := c.visit(main, loc)
		var restoreErr *restoreError
		switch {
		case errors.As(err, &restoreErr):
			summary.Failed++
			return readings, summary, err
		case errors.Is(err, browser.ErrNotFound):
			summary.Missing++
			c.logger.Warn("no data for studio", "studio", loc.Name)
		case err != nil:
			summary.Failed++
			c.logger.Warn("studio reading failed", "studio", loc.Name, "error", err)
		default:
			summary.Collected++
			readings = append(readings, reading)
			c.logger.Info("studio utilization",
				"studio", loc.Name,
				"percentage", reading.Percentage,
				"captured_at", reading.CapturedAt.Format(time.RFC3339),
			)
		}
	}
	return readings, summary, nil
}

// restoreError means the session could not get back to the main tab.
type restoreError struct{ err error }

func (e *restoreError) Error() string { return "return to main tab: " + e.err.Error() }

func (e *restoreError) Unwrap() error { return e.err }

// visit opens loc in a new tab and always closes it and switches back to
// main before returning, whichever way the extraction went.
func (c *Collector) visit(main browser.TabHandle, loc studio.Location) (reading Reading, err error) {
	c.logger.Debug("open studio site", "studio", loc.Name, "url", loc.URL)
	handle, err := c.session.CreateTab(loc.Name)
	if err != nil {
		return Reading{}, fmt.Errorf("create tab: %w", err)
	}
	defer func() {
		c.logger.Debug("close studio site", "studio", loc.Name)
		if closeErr := c.session.CloseTab(handle); closeErr != nil {
			c.logger.Warn("close studio tab failed", "studio", loc.Name, "error", closeErr)
		}
		if switchErr := c.session.SwitchTab(main); switchErr != nil {
			reading, err = Reading{}, &restoreError{err: switchErr}
		}
	}()

	if err := c.session.SwitchTab(handle); err != nil {
		return Reading{}, fmt.Errorf("switch to studio tab: %w", err)
	}
	if err := c.session.Open(loc.URL); err != nil {
		return Reading{}, err
	}
	elem, err := c.session.Find(c.percentage)
	if err != nil {
		return Reading{}, err
	}
	text, err := elem.Text()
	if err != nil {
		return Reading{}, fmt.Errorf("read percentage text: %w", err)
	}
	pct, err := ParsePercentage(text)
	if err != nil {
		return Reading{}, err
	}
	return Reading{
		Location:   loc.Name,
		Percentage: pct,
		CapturedAt: c.now().Round(time.Second),
	}, nil
}

// ParsePercentage parses text like "42%" or " 42 % ".
func ParsePercentage(text string) (int, error) {
	s := strings.TrimSpace(text)
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPercentage, text)
	}
	if n < 0 || n > 100 {
		return 0, fmt.Errorf("%w: %d out of range", ErrInvalidPercentage, n)
	}
	return n, nil
}
