package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/angeloszaimis/failover-gateway/internal/scheduler"
)

const (
	DefaultEndpoint        = "/version"
	DefaultServiceName     = "subconverter"
	DefaultPriorityTimeout = 800 * time.Millisecond
	DefaultFullTimeout     = 2 * time.Second

	maxBodyBytes = 64 << 10
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// Error classifications carried in Result.Error.
const (
	ErrorTimeout           = "timeout"
	ErrorCanceled          = "canceled"
	ErrorConnectionRefused = "connection_refused"
	ErrorDNS               = "dns_error"
	ErrorNetwork           = "network_error"
	ErrorInvalidURL        = "invalid_url"
	ErrorBodyRead          = "body_read_error"
	ErrorQueueTimeout      = "queue_timeout"
	ErrorQueueCleared      = "queue_cleared"
)

var errProbeFailed = errors.New("probe failed")

// Result is the outcome of a single probe. It is owned by the caller.
type Result struct {
	Healthy bool `json:"healthy"`
	// ResponseTime is in milliseconds and nil when the probe never completed.
	ResponseTime      *int64    `json:"response_time_ms"`
	ResponseTimeScore float64   `json:"response_time_score"`
	Status            int       `json:"status"`
	Version           string    `json:"version"`
	Priority          Priority  `json:"priority"`
	Error             string    `json:"error,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
	// Skipped is set when the scheduler gave up on the check before it ran, so
	// the result says nothing about the backend.
	Skipped bool `json:"skipped,omitempty"`
}

type Config struct {
	Endpoint        string
	ServiceName     string
	PriorityTimeout time.Duration
	FullTimeout     time.Duration
}

// Checker probes backends through a scheduler.Controller.
type Checker struct {
	client    *http.Client
	scheduler *scheduler.Controller[Result]
	scorer    Scorer
	versions  *VersionExtractor
	cfg       Config
	logger    *slog.Logger
}

// NewChecker creates a Checker. A nil scorer falls back to LinearScorer.
func NewChecker(cfg Config, ctrl *scheduler.Controller[Result], scorer Scorer, logger *slog.Logger) *Checker {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}
	if cfg.PriorityTimeout <= 0 {
		cfg.PriorityTimeout = DefaultPriorityTimeout
	}
	if cfg.FullTimeout <= 0 {
		cfg.FullTimeout = DefaultFullTimeout
	}
	if scorer == nil {
		scorer = LinearScorer{}
	}

	return &Checker{
		client:    &http.Client{},
		scheduler: ctrl,
		scorer:    scorer,
		versions:  NewVersionExtractor(cfg.ServiceName),
		cfg:       cfg,
		logger:    logger,
	}
}

// PriorityCheck is the fast probe for the request path. Any 200 is healthy.
func (c *Checker) PriorityCheck(ctx context.Context, backendURL, requestID string) Result {
	return c.check(ctx, backendURL, requestID, PriorityHigh)
}

// FullCheck is the stricter probe for periodic checks. The body must be readable.
func (c *Checker) FullCheck(ctx context.Context, backendURL, requestID string) Result {
	return c.check(ctx, backendURL, requestID, PriorityNormal)
}

// Stats exposes the underlying scheduler statistics.
func (c *Checker) Stats() scheduler.Snapshot {
	return c.scheduler.Stats()
}

func (c *Checker) check(ctx context.Context, backendURL, requestID string, priority Priority) Result {
	res, err := c.scheduler.ScheduleCheck(ctx, backendURL, requestID, func(ctx context.Context) (Result, error) {
		return c.probe(ctx, backendURL, requestID, priority)
	})

	if err != nil && !errors.Is(err, errProbeFailed) {
		c.logger.Warn("Health check was not run",
			slog.String("url", backendURL),
			slog.String("request_id", requestID),
			slog.String("priority", string(priority)),
			slog.String("error", err.Error()))

		res := unhealthy(priority, classifyError(err))
		res.Skipped = true
		return res
	}

	return res
}

func (c *Checker) probe(ctx context.Context, backendURL, requestID string, priority Priority) (Result, error) {
	timeout := c.cfg.FullTimeout
	if priority == PriorityHigh {
		timeout = c.cfg.PriorityTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target, err := endpointURL(backendURL, c.cfg.Endpoint)
	if err != nil {
		res := unhealthy(priority, ErrorInvalidURL)
		return res, fmt.Errorf("%w: %s", errProbeFailed, res.Error)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		res := unhealthy(priority, ErrorInvalidURL)
		return res, fmt.Errorf("%w: %s", errProbeFailed, res.Error)
	}
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		res := unhealthy(priority, classifyError(err))
		c.logger.Debug("Probe transport error",
			slog.String("url", backendURL),
			slog.String("priority", string(priority)),
			slog.String("error", err.Error()))
		return res, fmt.Errorf("%w: %s", errProbeFailed, res.Error)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	elapsed := time.Since(start)
	ms := elapsed.Milliseconds()

	res := Result{
		ResponseTime: &ms,
		Status:       resp.StatusCode,
		Version:      UnknownVersion,
		Priority:     priority,
		Timestamp:    time.Now().UTC(),
	}

	if resp.StatusCode != http.StatusOK {
		return res, fmt.Errorf("%w: status %d", errProbeFailed, resp.StatusCode)
	}

	switch priority {
	case PriorityHigh:
		res.Healthy = true
		if readErr == nil {
			res.Version = c.versions.Extract(string(body))
		}
	default:
		if readErr != nil {
			res.Error = ErrorBodyRead
			return res, fmt.Errorf("%w: %s", errProbeFailed, readErr.Error())
		}

		// TODO: the identity sniff never decides the outcome while a bare 200
		// also passes; make the sniff mandatory once backends all report it.
		identified := strings.Contains(strings.ToLower(string(body)), strings.ToLower(c.cfg.ServiceName))
		res.Healthy = identified || resp.StatusCode == http.StatusOK
		res.Version = c.versions.Extract(string(body))
	}

	res.ResponseTimeScore = c.scorer.Score(elapsed)

	return res, nil
}

func unhealthy(priority Priority, classification string) Result {
	return Result{
		Version:   UnknownVersion,
		Priority:  priority,
		Error:     classification,
		Timestamp: time.Now().UTC(),
	}
}

func endpointURL(backendURL, endpoint string) (string, error) {
	u, err := url.Parse(backendURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("backend URL %q must be absolute", backendURL)
	}

	return u.JoinPath(endpoint).String(), nil
}

func classifyError(err error) string {
	var (
		netErr net.Error
		dnsErr *net.DNSError
	)

	switch {
	case errors.Is(err, scheduler.ErrQueueTimeout):
		return ErrorQueueTimeout
	case errors.Is(err, scheduler.ErrQueueCleared):
		return ErrorQueueCleared
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTimeout
	case errors.Is(err, context.Canceled):
		return ErrorCanceled
	case errors.Is(err, syscall.ECONNREFUSED):
		return ErrorConnectionRefused
	case errors.As(err, &dnsErr):
		return ErrorDNS
	case errors.As(err, &netErr) && netErr.Timeout():
		return ErrorTimeout
	default:
		return ErrorNetwork
	}
}
