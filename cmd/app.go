package cmd

import (
	"github.com/ginjaninja78/payment-import/internal/commit"
	"github.com/ginjaninja78/payment-import/internal/config"
	"github.com/ginjaninja78/payment-import/internal/health"
	"github.com/ginjaninja78/payment-import/internal/ingest"
	"github.com/ginjaninja78/payment-import/internal/remote"
	"github.com/ginjaninja78/payment-import/internal/review"
)

// app wires the components every command shares.
type app struct {
	cfg      *config.MainConfig
	client   *remote.Client
	monitor  *health.Monitor
	queue    *review.Queue
	pipeline *ingest.Pipeline
	orch     *commit.Orchestrator
}

// newApp builds the component graph. The review outbox is opened only when
// withReview is set.
func newApp(cfg *config.MainConfig, withReview bool) (*app, error) {
	a := &app{cfg: cfg}
	a.client = remote.New(cfg.Service, cfg.Health.Timeout)
	a.monitor = health.NewMonitor(a.client, cfg.Health)
	a.pipeline = ingest.New(cfg.Import, a.client)

	var sink commit.ReviewSink
	if withReview {
		q, err := review.Open(cfg.Review.DBPath)
		if err != nil {
			return nil, err
		}
		a.queue = q
		sink = q
	}
	a.orch = commit.New(a.client, a.monitor, sink)
	return a, nil
}

func (a *app) Close() {
	a.monitor.Stop()
	if a.queue != nil {
		_ = a.queue.Close()
	}
}
