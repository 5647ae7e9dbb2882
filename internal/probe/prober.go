package probe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/clinicops/sentinel/internal/config"
)

const defaultProbeTimeout = 10 * time.Second

// upMetric is the conventional liveness gauge in Prometheus expositions.
const upMetric = "up"

// Gate decides whether a real probe may be attempted; the circuit-breaker
// monitor implements it. A gated-off probe is skipped entirely - no network
// call is made while a breaker is open.
type Gate interface {
	Allow(integrationID string) bool
}

// Reporter receives probe outcomes; the monitor facade implements it.
type Reporter interface {
	ReportIntegrationHealthCheck(integrationID string, success bool, responseTime time.Duration)
}

// Prober probes every configured target once per interval.
type Prober struct {
	targets  []config.ProbeTarget
	gate     Gate
	reporter Reporter
	client   *http.Client
}

// New creates a Prober.
func New(targets []config.ProbeTarget, gate Gate, reporter Reporter) *Prober {
	return &Prober{
		targets:  targets,
		gate:     gate,
		reporter: reporter,
		client:   &http.Client{Timeout: defaultProbeTimeout},
	}
}

// Run probes all targets on the given interval until ctx is cancelled.
// A cycle still in flight when the next tick fires coalesces with it.
func (p *Prober) Run(ctx context.Context, interval time.Duration) {
	if len(p.targets) == 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Cycle(ctx)
		}
	}
}

// Cycle probes every target once.
func (p *Prober) Cycle(ctx context.Context) {
	for _, t := range p.targets {
		if !p.gate.Allow(t.IntegrationID) {
			slog.Debug("probe: short-circuited by open breaker",
				"integration", t.IntegrationID)
			continue
		}

		start := time.Now()
		err := p.probe(ctx, t)
		rt := time.Since(start)

		if err != nil {
			slog.Warn("probe: check failed",
				"integration", t.IntegrationID,
				"endpoint", t.Endpoint,
				"err", err,
			)
		}
		p.reporter.ReportIntegrationHealthCheck(t.IntegrationID, err == nil, rt)
	}
}

func (p *Prober) probe(ctx context.Context, t config.ProbeTarget) error {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch t.Kind {
	case "prometheus":
		return p.probePrometheus(ctx, t.Endpoint)
	default:
		return p.probeHTTP(ctx, t.Endpoint)
	}
}

// probeHTTP succeeds on any 2xx response.
func (p *Prober) probeHTTP(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// probePrometheus fetches and parses the metrics exposition. The check fails
// on connectivity or parse errors, and on an explicit `up 0` gauge.
func (p *Prober) probePrometheus(ctx context.Context, url string) error {
	mfs, err := fetchMetrics(ctx, p.client, url)
	if err != nil {
		return err
	}
	if mf, ok := mfs[upMetric]; ok && sumFamily(mf) == 0 {
		return fmt.Errorf("exposition reports up=0")
	}
	return nil
}

// fetchMetrics performs an HTTP GET to url and returns parsed metric families.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a Prometheus text exposition into metric families.
// A partial result with a non-fatal parse warning is still returned.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// sumFamily adds up all counter, gauge, or untyped values in a MetricFamily.
// Returns 0 if mf is nil.
func sumFamily(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		}
	}
	return total
}
