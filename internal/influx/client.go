// Package influx writes utilization points to an InfluxDB 1.x server over
// its HTTP API using line protocol.
package influx

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Config holds connection settings for the store.
type Config struct {
	Host      string
	Port      int
	Username  string
	Password  string
	SSL       bool
	VerifySSL bool
	Database  string
	Timeout   time.Duration
}

// BaseURL returns the server's HTTP endpoint.
func (c Config) BaseURL() string {
	scheme := "http"
	if c.SSL {
		scheme = "https"
	}
	return scheme + "://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Client talks to the InfluxDB HTTP API.
type Client struct {
	cfg    Config
	http   *resty.Client
	logger *slog.Logger
}

var _ LineWriter = (*Client)(nil)

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	hc := resty.New().
		SetBaseURL(cfg.BaseURL()).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", "fitstar_utilization")
	if cfg.SSL && !cfg.VerifySSL {
		hc.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	if cfg.Username != "" {
		hc.SetBasicAuth(cfg.Username, cfg.Password)
	}
	return &Client{cfg: cfg, http: hc, logger: logger}
}

// Database returns the database points are written to.
func (c *Client) Database() string { return c.cfg.Database }

// Setup checks the server is reachable and that the configured user can
// create and use the database. CREATE DATABASE is a no-op when it exists.
func (c *Client) Setup(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/ping")
	if err != nil {
		return fmt.Errorf("connect to %s: %w", c.cfg.BaseURL(), err)
	}
	if resp.IsError() {
		return fmt.Errorf("ping %s: %s", c.cfg.BaseURL(), statusDetail(resp))
	}
	c.logger.Debug("store reachable", "url", c.cfg.BaseURL(), "version", resp.Header().Get("X-Influxdb-Version"))

	db := c.Database()
	if err := c.query(ctx, "CREATE DATABASE "+quoteIdent(db)); err != nil {
		return fmt.Errorf("create or select database %s: %w", db, err)
	}
	c.logger.Info("store ready", "url", c.cfg.BaseURL(), "database", db)
	return nil
}

type queryResponse struct {
	Results []struct {
		Error string `json:"error"`
	} `json:"results"`
	Error string `json:"error"`
}

func (c *Client) query(ctx context.Context, q string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{"q": q}).
		Post("/query")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("query failed: %s", statusDetail(resp))
	}
	var out queryResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return fmt.Errorf("decode query response: %w", err)
	}
	if out.Error != "" {
		return fmt.Errorf("query failed: %s", out.Error)
	}
	for _, r := range out.Results {
		if r.Error != "" {
			return fmt.Errorf("query failed: %s", r.Error)
		}
	}
	return nil
}

// WriteLines posts one chunk of line records with second precision.
func (c *Client) WriteLines(ctx context.Context, lines []string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"db": c.Database(), "precision": "s"}).
		SetHeader("Content-Type", "text/plain; charset=utf-8").
		SetBody(strings.Join(lines, "\n")).
		Post("/write")
	if err != nil {
		return fmt.Errorf("write to %s: %w", c.cfg.BaseURL(), err)
	}
	if resp.IsError() {
		return fmt.Errorf("write rejected: %s", statusDetail(resp))
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.GetClient().CloseIdleConnections()
	return nil
}

func statusDetail(resp *resty.Response) string {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(resp.Body(), &body) == nil && body.Error != "" {
		return fmt.Sprintf("status=%d error=%s", resp.StatusCode(), body.Error)
	}
	if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden {
		return fmt.Sprintf("status=%d unauthorized", resp.StatusCode())
	}
	return fmt.Sprintf("status=%d body=%q", resp.StatusCode(), truncate(resp.String(), 200))
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

func quoteIdent(name string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(name) + `"`
}
