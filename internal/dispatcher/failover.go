package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/imagetext/internal/metrics"
	"github.com/local/imagetext/internal/store"
	"github.com/local/imagetext/internal/task"
)

// candidate is one provider:model pair in the failover order.
type candidate struct {
	provider string
	model    string
}

// candidates builds the failover order: primary engine with primary then
// secondary model, then the secondary engine the same way. A job may pin the
// first engine via Job.Engine.
func (w *Worker) candidates(job Job) []candidate {
	primary := w.conf.Providers.PrimaryEngine
	secondary := w.conf.Providers.SecondaryEngine
	if job.Engine != "" {
		if job.Engine == secondary {
			primary, secondary = secondary, primary
		} else {
			primary = job.Engine
		}
	}

	var out []candidate
	for _, engine := range []string{primary, secondary} {
		if engine == "" {
			continue
		}
		if _, ok := w.adapters[engine]; !ok {
			continue
		}
		tier := w.conf.Providers.Models(engine)
		first := tier.Primary
		if job.Model != "" {
			first = job.Model
		}
		out = append(out, candidate{provider: engine, model: first})
		if tier.Secondary != "" && tier.Secondary != first {
			out = append(out, candidate{provider: engine, model: tier.Secondary})
		}
	}
	return out
}

// runWithFailover walks the candidate list until one succeeds. Fatal errors
// abort immediately; transient errors open the breaker and move on.
func (w *Worker) runWithFailover(ctx context.Context, job Job, in task.Input) (store.Result, error) {
	cands := w.candidates(job)
	if len(cands) == 0 {
		return store.Result{}, &task.ConfigurationError{Variable: "AI_ENGINE"}
	}

	var lastErr error
	for _, c := range cands {
		if w.breaker != nil && w.breaker.IsOpen(ctx, c.provider, c.model) {
			log.Debug().Str("provider", c.provider).Str("model", c.model).Msg("breaker open, skipping candidate")
			continue
		}
		release, ok := w.inflight.Allow(c.provider, c.model)
		if !ok {
			log.Debug().Str("provider", c.provider).Str("model", c.model).Msg("inflight limit reached, skipping candidate")
			continue
		}

		out, err := w.runOne(ctx, c, in)
		release()

		if err == nil {
			if w.breaker != nil {
				w.breaker.Close(ctx, c.provider, c.model)
			}
			return store.Result{Text: out.Text, Provider: c.provider, Model: out.ModelUsed}, nil
		}

		lastErr = err
		if isFatalError(err) {
			return store.Result{}, err
		}
		if w.breaker != nil && isTransientError(err) {
			w.breaker.Open(ctx, c.provider, c.model)
		}
		log.Warn().Err(err).Str("provider", c.provider).Str("model", c.model).Msg("candidate failed, trying next")
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("all provider candidates unavailable")
	}
	return store.Result{}, lastErr
}

func (w *Worker) runOne(ctx context.Context, c candidate, in task.Input) (task.Output, error) {
	adapter := w.adapters[c.provider]
	in.Model = c.model

	reqCtx, cancel := context.WithTimeout(ctx, w.conf.Worker.RequestTimeout)
	defer cancel()

	start := time.Now()
	out, err := adapter.Run(reqCtx, in)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ObserveProvider(c.provider, c.model, status, time.Since(start))
	return out, err
}
