package connectivity

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"cptrack/internal/config"

	"github.com/rs/zerolog"
)

// Monitor probes the upstream and reports every result to onResult. The
// receiver is expected to ignore repeats; transitions are logged here.
type Monitor struct {
	probeURL string
	interval time.Duration
	client   *http.Client
	onResult func(online bool)
	logger   zerolog.Logger

	known  atomic.Bool
	online atomic.Bool
}

func NewMonitor(cfg config.ConnectivityConfig, onResult func(online bool), logger *zerolog.Logger) *Monitor {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "connectivity").Logger()
	}
	if onResult == nil {
		onResult = func(bool) {}
	}

	return &Monitor{
		probeURL: cfg.ProbeURL,
		interval: interval,
		client:   &http.Client{Timeout: timeout},
		onResult: onResult,
		logger:   l,
	}
}

// Run probes immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info().Str("probe_url", m.probeURL).Dur("interval", m.interval).Msg("connectivity monitor started")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.Check(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Check runs one probe, reports it and returns the result.
func (m *Monitor) Check(ctx context.Context) bool {
	online := m.probe(ctx)
	if ctx.Err() != nil {
		return online
	}

	previous := m.online.Swap(online)
	if !m.known.Swap(true) || previous != online {
		m.logger.Info().Bool("online", online).Msg("connectivity state")
	}
	m.onResult(online)
	return online
}

// Online returns the last probe result; false before the first probe.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

func (m *Monitor) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, http.NoBody)
	if err != nil {
		m.logger.Error().Err(err).Msg("invalid probe url")
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Debug().Err(err).Msg("probe failed")
		return false
	}
	resp.Body.Close()

	// Any answer below 500 means the host is reachable; some APIs reject HEAD.
	return resp.StatusCode < http.StatusInternalServerError
}
