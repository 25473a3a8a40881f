// Package studio discovers the FitStar studio pages listed in the main page's
// studios dropdown.
package studio

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/dgnsrekt/fitstar_utilization/internal/browser"
)

// DefaultConsentTimeout bounds the wait for the cookie banner.
const DefaultConsentTimeout = 20 * time.Second

// Location is one studio page.
type Location struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Markup is the site's element contract. A change here is an upstream
// breaking change.
type Markup struct {
	ConsentButton  browser.Locator
	StudiosTrigger browser.Locator
	StudiosList    browser.Locator
	StudioLink     browser.Locator
	Percentage     browser.Locator
}

func DefaultMarkup() Markup {
	return Markup{
		ConsentButton:  browser.XPath("//button[@aria-label='Einstellungen speichern']"),
		StudiosTrigger: browser.XPath("//a[contains(@class, 'studios') and contains(@class, 'dropdownTrigger')]"),
		StudiosList:    browser.XPath("//ul[contains(@class, 'row-studios')]"),
		StudioLink:     browser.CSS("a"),
		Percentage:     browser.XPath(`//strong[@id="fs-livedata-percentage"]`),
	}
}

// Directory turns the main page's studios dropdown into Locations.
type Directory struct {
	session        browser.Session
	markup         Markup
	consentTimeout time.Duration
	logger         *slog.Logger
}

func NewDirectory(session browser.Session, markup Markup, consentTimeout time.Duration, logger *slog.Logger) *Directory {
	if consentTimeout <= 0 {
		consentTimeout = DefaultConsentTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{session: session, markup: markup, consentTimeout: consentTimeout, logger: logger}
}

// Discover expects the session to be on the main page. Every error it
// returns means the page never became usable and the run should stop.
func (d *Directory) Discover() ([]Location, error) {
	consent, err := d.session.WaitForClickable(d.markup.ConsentButton, d.consentTimeout)
	if err != nil {
		return nil, fmt.Errorf("cookie consent control: %w", err)
	}
	d.logger.Debug("save settings button clickable")
	if err := consent.Click(); err != nil {
		return nil, fmt.Errorf("acknowledge cookie consent: %w", err)
	}
	d.logger.Debug("save settings button clicked")

	trigger, err := d.session.Find(d.markup.StudiosTrigger)
	if err != nil {
		return nil, fmt.Errorf("studios dropdown trigger: %w", err)
	}
	if err := trigger.Click(); err != nil {
		return nil, fmt.Errorf("open studios dropdown: %w", err)
	}
	d.logger.Debug("opened studios dropdown")

	list, err := d.session.Find(d.markup.StudiosList)
	if err != nil {
		return nil, fmt.Errorf("studio list: %w", err)
	}

	links, err := list.FindAll(d.markup.StudioLink)
	if err != nil && !errors.Is(err, browser.ErrNotFound) {
		return nil, fmt.Errorf("studio links: %w", err)
	}
	hrefs := make([]string, 0, len(links))
	for _, link := range links {
		href, err := link.Attribute("href")
		if err != nil {
			d.logger.Warn("studio link without href", "error", err)
			continue
		}
		hrefs = append(hrefs, href)
	}
	d.logger.Debug("retrieved studio urls", "links", len(hrefs))

	locations := d.build(Dedupe(hrefs))
	d.logger.Info("discovered studios", "count", len(locations))
	return locations, nil
}

func (d *Directory) build(urls []string) []Location {
	seen := make(map[string]string, len(urls))
	out := make([]Location, 0, len(urls))
	for _, u := range urls {
		name := NameFromURL(u)
		if name == "" {
			d.logger.Warn("skipping studio url without a name", "url", u)
			continue
		}
		if prev, ok := seen[name]; ok {
			d.logger.Warn("skipping duplicate studio name", "name", name, "url", u, "kept_url", prev)
			continue
		}
		seen[name] = u
		out = append(out, Location{Name: name, URL: u})
	}
	return out
}

// Dedupe drops repeated URLs and blanks, keeping first-seen order.
func Dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// NameFromURL returns the last non-empty path segment of rawURL.
func NameFromURL(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	p = strings.TrimRight(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	return p
}

// Filter keeps the locations whose name contains substr. Skipped locations
// are logged, not treated as errors.
func Filter(locations []Location, substr string, logger *slog.Logger) []Location {
	if substr == "" {
		return locations
	}
	if logger == nil {
		logger = slog.Default()
	}
	out := make([]Location, 0, len(locations))
	for _, loc := range locations {
		if !strings.Contains(loc.Name, substr) {
			logger.Info("skipping studio due to filter", "studio", loc.Name, "filter", substr)
			continue
		}
		out = append(out, loc)
	}
	return out
}
