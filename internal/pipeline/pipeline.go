// Package pipeline runs one scrape: store setup, studio discovery,
// per-studio collection and the final batch write.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dgnsrekt/fitstar_utilization/internal/browser"
	"github.com/dgnsrekt/fitstar_utilization/internal/collector"
	"github.com/dgnsrekt/fitstar_utilization/internal/influx"
	"github.com/dgnsrekt/fitstar_utilization/internal/studio"
)

// Store is checked once before any browser work starts.
type Store interface {
	Setup(ctx context.Context) error
}

// RecordWriter persists the whole run in one call.
type RecordWriter interface {
	Write(ctx context.Context, records []influx.Record) error
}

// BrowserFactory opens the browser session for one run.
type BrowserFactory func(ctx context.Context) (browser.Session, error)

// Options are the per-run inputs.
type Options struct {
	SiteURL        string
	Filter         string
	ConsentTimeout time.Duration
	Markup         studio.Markup
	// DryRun skips the store entirely and prints line records to Output.
	DryRun bool
	Output io.Writer
}

// Result describes a finished run.
type Result struct {
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Discovered int                 `json:"discovered"`
	Selected   int                 `json:"selected"`
	Summary    collector.Summary   `json:"summary"`
	Readings   []collector.Reading `json:"readings"`
	Written    int                 `json:"written"`
	DryRun     bool                `json:"dry_run"`
}

type Pipeline struct {
	opts        Options
	store       Store
	writer      RecordWriter
	openBrowser BrowserFactory
	logger      *slog.Logger
	now         func() time.Time
}

func New(opts Options, store Store, writer RecordWriter, openBrowser BrowserFactory, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Output == nil {
		opts.Output = io.Discard
	}
	if opts.Markup == (studio.Markup{}) {
		opts.Markup = studio.DefaultMarkup()
	}
	return &Pipeline{opts: opts, store: store, writer: writer, openBrowser: openBrowser, logger: logger, now: time.Now}
}

// Run executes one scrape. Every returned error is a *CodedError; when it is
// returned nothing has been written.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	res := Result{StartedAt: p.now(), DryRun: p.opts.DryRun}

	if !p.opts.DryRun {
		if err := p.store.Setup(ctx); err != nil {
			p.logger.Error("could not connect to or prepare the store", "error", err)
			return res, newError(CodeStoreSetup, "store setup failed", err)
		}
	}

	readings, err := p.scrape(ctx, &res)
	if err != nil {
		return res, err
	}
	res.Readings = readings

	records := make([]influx.Record, 0, len(readings))
	for _, r := range readings {
		records = append(records, influx.UtilizationRecord(r.Location, r.Percentage, r.CapturedAt))
	}

	if p.opts.DryRun {
		lines, err := influx.FormatLines(records)
		if err != nil {
			return res, newError(CodeStoreWrite, "render line records failed", err)
		}
		for _, line := range lines {
			if _, err := fmt.Fprintln(p.opts.Output, line); err != nil {
				return res, newError(CodeStoreWrite, "print line records failed", err)
			}
		}
		res.FinishedAt = p.now()
		p.logger.Info("dry run complete", "readings", len(readings))
		return res, nil
	}

	if err := p.writer.Write(ctx, records); err != nil {
		p.logger.Error("batch write failed, readings of this run are lost", "readings", len(records), "error", err)
		return res, newError(CodeStoreWrite, "batch write failed", err)
	}
	res.Written = len(records)
	res.FinishedAt = p.now()
	p.logger.Info("run complete",
		"discovered", res.Discovered,
		"selected", res.Selected,
		"collected", res.Summary.Collected,
		"missing", res.Summary.Missing,
		"failed", res.Summary.Failed,
		"duration_ms", res.FinishedAt.Sub(res.StartedAt).Milliseconds(),
	)
	return res, nil
}

// scrape owns the browser session; it is shut down before scrape returns.
func (p *Pipeline) scrape(ctx context.Context, res *Result) ([]collector.Reading, error) {
	sess, err := p.openBrowser(ctx)
	if err != nil {
		return nil, newError(CodeBrowserStart, "open browser failed", err)
	}
	defer func() {
		if err := sess.Shutdown(); err != nil {
			p.logger.Warn("browser shutdown failed", "error", err)
		}
	}()

	if err := sess.Open(p.opts.SiteURL); err != nil {
		return nil, newError(CodeDiscovery, "open main page failed", err)
	}

	locations, err := studio.NewDirectory(sess, p.opts.Markup, p.opts.ConsentTimeout, p.logger).Discover()
	if err != nil {
		return nil, newError(CodeDiscovery, "studio discovery failed", err)
	}
	res.Discovered = len(locations)

	locations = studio.Filter(locations, p.opts.Filter, p.logger)
	res.Selected = len(locations)

	readings, summary, err := collector.New(sess, p.opts.Markup.Percentage, p.logger).Collect(ctx, locations)
	res.Summary = summary
	if err != nil {
		return nil, newError(CodeCollect, "collection aborted", err)
	}
	return readings, nil
}
