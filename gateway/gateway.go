// Package gateway fetches content-addressed data from an ordered list of
// HTTP gateways.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/decloud-network/validator/logging"
	"github.com/decloud-network/validator/types"
)

const DefaultAttemptTimeout = 10 * time.Minute

// DefaultGateways lists public IPFS gateways in priority order.
var DefaultGateways = []string{
	"https://ipfs.io/ipfs/",
	"https://gateway.pinata.cloud/ipfs/",
	"https://cloudflare-ipfs.com/ipfs/",
	"https://dweb.link/ipfs/",
}

// StatusError is returned when a gateway answers with a non-2xx status.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %s", e.Status)
}

// Gateway is a single content gateway.
type Gateway struct {
	Name string
	base *url.URL
}

// URL returns the address of cid on this gateway.
func (g Gateway) URL(cid string) string {
	return g.base.JoinPath(cid).String()
}

func (g Gateway) String() string {
	return g.Name
}

// Sink consumes the body of a successful response. Returning an error marks
// the attempt as failed and moves on to the next gateway.
type Sink func(gw Gateway, body io.Reader) error

// AttemptObserver is notified after every gateway attempt.
type AttemptObserver func(gw Gateway, err error, took time.Duration)

type Option func(*Pool)

func WithHTTPClient(c *http.Client) Option {
	return func(p *Pool) { p.client = c }
}

func WithAttemptTimeout(d time.Duration) Option {
	return func(p *Pool) { p.timeout = d }
}

func WithObserver(o AttemptObserver) Option {
	return func(p *Pool) { p.observer = o }
}

// Pool tries gateways one after another in the declared order.
// A failing gateway is skipped, never retried within the same fetch.
type Pool struct {
	gateways []Gateway
	client   *http.Client
	timeout  time.Duration
	observer AttemptObserver
}

func New(urls []string, opts ...Option) (*Pool, error) {
	if len(urls) == 0 {
		return nil, types.E(types.KindConfiguration, "gateways", errors.New("no gateways configured"))
	}
	p := &Pool{
		client:   &http.Client{},
		timeout:  DefaultAttemptTimeout,
		observer: func(Gateway, error, time.Duration) {},
	}
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return nil, types.E(types.KindConfiguration, "gateways", fmt.Errorf("invalid gateway url %q", raw))
		}
		p.gateways = append(p.gateways, Gateway{Name: u.Host, base: u})
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Pool) Gateways() []Gateway {
	return append([]Gateway(nil), p.gateways...)
}

// Fetch retrieves cid from the first gateway that both serves it and whose
// body is accepted by sink. It returns the gateway that succeeded. When all
// gateways fail the error wraps types.ErrAllGatewaysFailed and every attempt
// error.
func (p *Pool) Fetch(ctx context.Context, cid string, sink Sink) (Gateway, error) {
	logger := logging.FromContext(ctx).With(zap.String("cid", cid))
	var attempts *multierror.Error

	for _, gw := range p.gateways {
		start := time.Now()
		err := p.attempt(ctx, gw, cid, sink)
		took := time.Since(start)
		p.observer(gw, err, took)
		if err == nil {
			logger.Debug("fetched from gateway", zap.Stringer("gateway", gw), zap.Duration("took", took))
			return gw, nil
		}
		if ctx.Err() != nil {
			return Gateway{}, ctx.Err()
		}
		logger.Warn("gateway attempt failed", zap.Stringer("gateway", gw), zap.Error(err))
		attempts = multierror.Append(attempts, fmt.Errorf("%s: %w", gw.Name, err))
	}
	return Gateway{}, fmt.Errorf("%w: %w", types.ErrAllGatewaysFailed, attempts.ErrorOrNil())
}

func (p *Pool) attempt(ctx context.Context, gw Gateway, cid string, sink Sink) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, gw.URL(cid), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	res, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))
		return &StatusError{Code: res.StatusCode, Status: res.Status}
	}
	return sink(gw, res.Body)
}

// Normalize makes sure a gateway base URL ends with a slash.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	return raw
}
