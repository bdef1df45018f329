package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"agentbox/internal/metrics"
	"agentbox/internal/model"
)

const (
	DefaultInterval     = 10 * time.Second
	DefaultBackoff      = 30 * time.Second
	DefaultPollInterval = time.Second
	DefaultProbeTimeout = 10 * time.Second

	// failureThreshold consecutive unhealthy probes switch a loop to the
	// backoff interval until the container recovers.
	failureThreshold = 3
)

// ErrClosed is returned by StartMonitoring after Shutdown.
var ErrClosed = errors.New("health monitor is shut down")

// RecordSource looks up the current record for a deployment.
type RecordSource interface {
	Get(id string) (*model.Record, bool)
}

// ResultSink receives the outcome of every background probe.
type ResultSink interface {
	RecordProbe(id string, color model.Color, healthy bool, message string, at time.Time)
}

// Monitor runs health probes. One-off checks work on any record; continuous
// loops read fresh records from the source and report to the sink.
type Monitor struct {
	source  RecordSource
	sink    ResultSink
	client  *http.Client
	host    string
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	interval     time.Duration
	backoff      time.Duration
	pollInterval time.Duration
	probeTimeout time.Duration

	mu     sync.Mutex
	loops  map[string]*loop
	closed bool
}

type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithSink reports background probe results to s.
func WithSink(s ResultSink) Option {
	return func(m *Monitor) { m.sink = s }
}

// WithHTTPClient replaces the probe client. Timeouts come from the probe
// context, not the client.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Monitor) { m.client = c }
}

// WithHost changes the probe host (default localhost).
func WithHost(host string) Option {
	return func(m *Monitor) { m.host = host }
}

// WithIntervals sets the loop interval and the backoff interval.
func WithIntervals(interval, backoff time.Duration) Option {
	return func(m *Monitor) {
		if interval > 0 {
			m.interval = interval
		}
		if backoff > 0 {
			m.backoff = backoff
		}
	}
}

// WithPollInterval sets how often WaitUntilHealthy probes.
func WithPollInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithProbeTimeout sets the timeout used when neither the caller nor the
// deployment config names one.
func WithProbeTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.probeTimeout = d
		}
	}
}

// WithMetrics records probe counts and latency.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) { m.metrics = mt }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// NewMonitor returns a monitor reading records from source.
func NewMonitor(source RecordSource, opts ...Option) *Monitor {
	m := &Monitor{
		source:       source,
		client:       &http.Client{},
		host:         "localhost",
		logger:       slog.Default(),
		now:          func() time.Time { return time.Now().UTC() },
		interval:     DefaultInterval,
		backoff:      DefaultBackoff,
		pollInterval: DefaultPollInterval,
		probeTimeout: DefaultProbeTimeout,
		loops:        make(map[string]*loop),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "health")
	return m
}

// WaitUntilHealthy probes once per poll interval until the container is
// healthy or maxWait elapses. On timeout it returns the last probe message.
func (m *Monitor) WaitUntilHealthy(ctx context.Context, rec *model.Record, color model.Color, maxWait time.Duration) (bool, string) {
	waitCtx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(m.pollInterval), 1)
	message := fmt.Sprintf("not healthy after %s", maxWait)
	for {
		if err := limiter.Wait(waitCtx); err != nil {
			return false, message
		}
		healthy, msg := m.Check(waitCtx, rec, color, 0)
		if healthy {
			return true, msg
		}
		message = msg
	}
}

// Validate reports whether an active deployment answers its health check.
// Deployments that are not healthy or promoted fail without a probe.
func (m *Monitor) Validate(ctx context.Context, rec *model.Record) bool {
	if rec == nil || !rec.State.IsActive() {
		return false
	}
	healthy, _ := m.Check(ctx, rec, rec.ActiveColor, 0)
	return healthy
}

// ContainerReport is the probe result for one color slot.
type ContainerReport struct {
	Color       model.Color        `json:"color"`
	ContainerID string             `json:"container_id"`
	Port        int                `json:"port"`
	Status      model.HealthStatus `json:"status"`
	Message     string             `json:"message"`
	LastCheck   time.Time          `json:"last_check"`
}

// Report is the health of every container a deployment has.
type Report struct {
	DeploymentID string            `json:"deployment_id"`
	State        model.State       `json:"state"`
	ActiveColor  model.Color       `json:"active_color"`
	Containers   []ContainerReport `json:"containers"`
}

// Summary probes each color that has a container. Colors without a
// container are left out.
func (m *Monitor) Summary(ctx context.Context, rec *model.Record) Report {
	report := Report{
		DeploymentID: rec.ID(),
		State:        rec.State,
		ActiveColor:  rec.ActiveColor,
		Containers:   []ContainerReport{},
	}

	for _, color := range []model.Color{model.ColorBlue, model.ColorGreen} {
		c := rec.Container(color)
		if c == nil {
			continue
		}
		healthy, message := m.Check(ctx, rec, color, 0)
		status := model.HealthUnhealthy
		if healthy {
			status = model.HealthHealthy
		}
		port := c.Port
		if rec.Ports != nil {
			port = rec.Ports.Port(color)
		}
		report.Containers = append(report.Containers, ContainerReport{
			Color:       color,
			ContainerID: c.ContainerID,
			Port:        port,
			Status:      status,
			Message:     message,
			LastCheck:   m.now(),
		})
	}
	return report
}
