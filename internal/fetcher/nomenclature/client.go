// Package nomenclature implements crawler.NodeFetcher against the
// Access2Markets nomenclature products API using gocolly.
package nomenclature

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/nomenclature-crawler/internal/crawler"
	"github.com/JakeFAU/nomenclature-crawler/internal/metrics"
)

// DefaultEndpoint is the public products endpoint.
const DefaultEndpoint = "https://trade.ec.europa.eu/access-to-markets/api/v2/nomenclature/products"

// Config controls request construction.
type Config struct {
	Endpoint    string
	Lang        string
	UserAgent   string
	Timeout     time.Duration
	MaxBodySize int
}

// Limiter gates outgoing requests.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Client fetches taxonomy nodes. Each call clones a base collector.
type Client struct {
	cfg           Config
	limiter       Limiter
	baseCollector *colly.Collector
	logger        *zap.Logger
}

var _ crawler.NodeFetcher = (*Client)(nil)

var errNotArray = errors.New("payload is not a JSON array")

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Client. limiter may be nil.
func New(cfg Config, limiter Limiter, logger *zap.Logger) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Lang == "" {
		cfg.Lang = "EN"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	if cfg.MaxBodySize > 0 {
		c.MaxBodySize = cfg.MaxBodySize
	}
	c.WithTransport(newHTTPTransport())
	metrics.Init()
	return &Client{
		cfg:           cfg,
		limiter:       limiter,
		baseCollector: c,
		logger:        logger,
	}
}

// BuildURL returns the request URL for a country scope and optional parent.
func (c *Client) BuildURL(countryCode, parentID string) string {
	params := url.Values{}
	params.Set("country", crawler.NormalizeCountryCode(countryCode))
	params.Set("lang", c.cfg.Lang)
	if parentID != "" {
		params.Set("parent", parentID)
	}
	return c.cfg.Endpoint + "?" + params.Encode()
}

type response struct {
	status int
	body   []byte
}

// FetchNodes issues one GET and decodes the JSON array of nodes. Failures are
// *crawler.NetworkError, *crawler.HTTPError, or *crawler.ParseError.
func (c *Client) FetchNodes(ctx context.Context, countryCode, parentID string) ([]crawler.RawNode, error) {
	target := c.BuildURL(countryCode, parentID)
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, target); err != nil {
			return nil, err
		}
	}

	var (
		result   response
		fetchErr error
	)
	collector := c.buildCollector(&result, &fetchErr)
	start := time.Now()
	if err := c.runCollector(ctx, collector, target); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
		}
		metrics.ObserveAPIRequest(target, "network")
		return nil, &crawler.NetworkError{Err: err}
	}
	if fetchErr != nil && result.status == 0 {
		metrics.ObserveAPIRequest(target, "network")
		return nil, &crawler.NetworkError{Err: fetchErr}
	}

	logger := c.logger.With(
		zap.String("parent", parentID),
		zap.Int("status", result.status),
		zap.Duration("duration", time.Since(start)),
	)
	if result.status < 200 || result.status > 299 {
		metrics.ObserveAPIRequest(target, "http_"+strconv.Itoa(result.status))
		switch result.status {
		case http.StatusTooManyRequests:
			metrics.ObserveRateLimitHit()
		case http.StatusForbidden:
			metrics.ObserveChallengeHit()
		}
		logger.Warn("nomenclature request rejected")
		return nil, &crawler.HTTPError{Status: result.status, URL: target}
	}

	var nodes []crawler.RawNode
	if err := json.Unmarshal(result.body, &nodes); err != nil {
		metrics.ObserveAPIRequest(target, "parse")
		logger.Warn("nomenclature payload invalid", zap.Error(err))
		return nil, &crawler.ParseError{Err: err}
	}
	if nodes == nil {
		metrics.ObserveAPIRequest(target, "parse")
		logger.Warn("nomenclature payload is not an array")
		return nil, &crawler.ParseError{Err: errNotArray}
	}
	metrics.ObserveAPIRequest(target, "ok")
	logger.Debug("nomenclature nodes fetched", zap.Int("count", len(nodes)))
	return nodes, nil
}

func (c *Client) buildCollector(result *response, fetchErr *error) *colly.Collector {
	collector := c.baseCollector.Clone()
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	collector.SetRequestTimeout(c.cfg.Timeout)
	c.configureCollectorHooks(collector, result, fetchErr)
	return collector
}

func (c *Client) configureCollectorHooks(hooks collectorHooks, result *response, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json")
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = response{
			status: r.StatusCode,
			body:   append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown transport error")
		}
		if r != nil && r.StatusCode != 0 {
			*result = response{status: r.StatusCode, body: append([]byte(nil), r.Body...)}
		}
		*fetchErr = err
	})
}

func (c *Client) runCollector(ctx context.Context, collector *colly.Collector, target string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
	}
}
