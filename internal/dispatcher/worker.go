package dispatcher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/imagetext/internal/config"
	"github.com/local/imagetext/internal/filetype"
	"github.com/local/imagetext/internal/imagerender"
	"github.com/local/imagetext/internal/metrics"
	"github.com/local/imagetext/internal/store"
	"github.com/local/imagetext/internal/task"
)

// Job is the queued form of an async describe request. Exactly one of
// ImageB64/ImageURL/ImageRef identifies the image.
type Job struct {
	JobID    string `json:"job_id"`
	ImageB64 string `json:"image_b64,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	ImageRef string `json:"image_ref,omitempty"` // s3:// reference
	Page     int    `json:"page,omitempty"`      // 1-based, for PDF refs
	Prompt   string `json:"prompt,omitempty"`
	Model    string `json:"model,omitempty"`
	Engine   string `json:"engine,omitempty"` // preferred provider
	Attempts int    `json:"attempts,omitempty"`
}

// Queue is the slice of the queue the worker needs.
type Queue interface {
	Dequeue(ctx context.Context, consumer string, timeout time.Duration) (string, []byte, error)
	Ack(ctx context.Context, msgID string) error
	EnqueueDelayed(ctx context.Context, payload []byte, executeAt time.Time) error
	AddDLQ(ctx context.Context, payload []byte, reason string) error
	IsCancelled(ctx context.Context, jobID string) (bool, error)
}

// StatusStore persists job state and results.
type StatusStore interface {
	Set(ctx context.Context, jobID string, st store.Status) error
	SaveResult(ctx context.Context, jobID string, r store.Result) error
}

// ImageFetcher resolves s3:// job references to bytes.
type ImageFetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Breaker guards provider:model pairs.
type Breaker interface {
	IsOpen(ctx context.Context, provider, model string) bool
	Open(ctx context.Context, provider, model string)
	Close(ctx context.Context, provider, model string)
}

// Runner is the adapter surface used by the failover loop.
type Runner interface {
	Run(ctx context.Context, in task.Input) (task.Output, error)
	Provider() string
}

type depther interface {
	Depths(ctx context.Context) (int64, int64, int64, error)
}

// Worker consumes describe jobs and drives them through the task adapters
// with provider failover.
type Worker struct {
	conf     *config.Config
	q        Queue
	status   StatusStore
	fetcher  ImageFetcher
	breaker  Breaker
	adapters map[string]Runner
	inflight *inflightLimiter
	detector *filetype.Detector

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a worker with one adapter per configured provider.
func New(conf *config.Config, q Queue, status StatusStore, fetcher ImageFetcher, breaker Breaker, adapters map[string]Runner) *Worker {
	return &Worker{
		conf:     conf,
		q:        q,
		status:   status,
		fetcher:  fetcher,
		breaker:  breaker,
		adapters: adapters,
		inflight: newInflightLimiter(conf.Worker.MaxInflightPerModel),
		detector: filetype.New(),
		stop:     make(chan struct{}),
	}
}

// Adapters builds the Runner set for New from task adapters.
func Adapters(list ...*task.Adapter) map[string]Runner {
	m := make(map[string]Runner, len(list))
	for _, a := range list {
		m[a.Provider()] = a
	}
	return m
}

func (w *Worker) Start() {
	n := w.conf.Worker.Concurrency
	if n <= 0 {
		n = 2
	}
	for i := 0; i < n; i++ {
		w.wg.Add(1)
		go w.loop(i)
	}
	if d, ok := w.q.(depther); ok {
		w.wg.Add(1)
		go w.monitorDepths(d)
	}
}

func (w *Worker) Stop(ctx context.Context) error {
	close(w.stop)
	done := make(chan struct{})
	go func() { w.wg.Wait(); close(done) }()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop(id int) {
	defer w.wg.Done()
	consumer := fmt.Sprintf("worker-%d", id)
	log.Info().Str("consumer", consumer).Msg("dispatcher worker started")

	for {
		select {
		case <-w.stop:
			log.Info().Str("consumer", consumer).Msg("dispatcher worker stopped")
			return
		default:
		}

		msgID, data, err := w.q.Dequeue(context.Background(), consumer, 2*time.Second)
		if err != nil {
			log.Error().Err(err).Msg("queue dequeue error")
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if data == nil {
			continue
		}

		w.process(msgID, data)
	}
}

func (w *Worker) process(msgID string, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), w.conf.Worker.JobTotalTimeout)
	defer cancel()
	defer func() { _ = w.q.Ack(context.Background(), msgID) }()

	var job Job
	if err := json.Unmarshal(data, &job); err != nil || job.JobID == "" {
		log.Error().Err(err).Msg("dropping undecodable job payload")
		_ = w.q.AddDLQ(ctx, data, "undecodable payload")
		metrics.IncProcessed("dlq")
		return
	}

	if cancelled, _ := w.q.IsCancelled(ctx, job.JobID); cancelled {
		log.Warn().Str("job_id", job.JobID).Msg("job cancelled before processing")
		_ = w.status.Set(ctx, job.JobID, store.Status{Status: store.StatusCancelled, Message: "cancelled", Attempts: job.Attempts})
		return
	}

	_ = w.status.Set(ctx, job.JobID, store.Status{Status: store.StatusRunning, Message: "processing", Attempts: job.Attempts + 1})

	in, err := w.resolveInput(ctx, job)
	if err != nil {
		w.fail(ctx, job, data, err)
		return
	}

	result, err := w.runWithFailover(ctx, job, in)
	if err != nil {
		w.fail(ctx, job, data, err)
		return
	}

	now := time.Now()
	_ = w.status.Set(ctx, job.JobID, store.Status{Status: store.StatusDone, Message: "done", Attempts: job.Attempts + 1, End: &now})
	_ = w.status.SaveResult(ctx, job.JobID, result)
	metrics.IncProcessed("success")
	log.Info().Str("job_id", job.JobID).Str("provider", result.Provider).Str("model", result.Model).Msg("job done")
}

// resolveInput turns the job payload into a task input: decode inline
// base64, pass URLs through, or fetch s3:// references (rendering PDF pages
// to JPEG).
func (w *Worker) resolveInput(ctx context.Context, job Job) (task.Input, error) {
	set := 0
	for _, v := range []string{job.ImageB64, job.ImageURL, job.ImageRef} {
		if v != "" {
			set++
		}
	}
	if set > 1 {
		return task.Input{}, &task.InvalidInputError{Reason: "job sets more than one of image_b64, image_url and image_ref"}
	}

	in := task.Input{Prompt: job.Prompt, Model: job.Model}

	switch {
	case job.ImageB64 != "":
		data, err := base64.StdEncoding.DecodeString(job.ImageB64)
		if err != nil {
			return task.Input{}, &task.InvalidInputError{Reason: "image_b64 is not valid base64"}
		}
		in.ImageData = data
	case job.ImageURL != "":
		in.ImageURL = job.ImageURL
	case job.ImageRef != "":
		if w.fetcher == nil {
			return task.Input{}, &task.ConfigurationError{Variable: "S3_BUCKET"}
		}
		data, err := w.fetcher.Fetch(ctx, job.ImageRef)
		if err != nil {
			return task.Input{}, fmt.Errorf("fetch %s: %w", job.ImageRef, err)
		}
		info := w.detector.Detect(data)
		if info.NeedsRender {
			page := job.Page
			if page <= 0 {
				page = 1
			}
			data, err = imagerender.RenderPageToJPEG(data, page, w.conf.Task.RenderDPI, w.conf.Task.RenderQuality)
			if err != nil {
				return task.Input{}, &task.InvalidInputError{Reason: err.Error()}
			}
		} else if !info.Supported {
			return task.Input{}, &task.InvalidInputError{Reason: info.Description}
		}
		in.ImageData = data
	default:
		return task.Input{}, &task.InvalidInputError{Reason: "job carries no image"}
	}
	return in, nil
}

// fail routes an error either to the DLQ (fatal or exhausted) or to a
// delayed retry with backoff and jitter.
func (w *Worker) fail(ctx context.Context, job Job, payload []byte, cause error) {
	if isFatalError(cause) || job.Attempts+1 >= w.conf.Worker.JobMaxAttempts {
		now := time.Now()
		_ = w.status.Set(ctx, job.JobID, store.Status{Status: store.StatusFailed, Message: cause.Error(), Attempts: job.Attempts + 1, End: &now})
		_ = w.q.AddDLQ(ctx, payload, cause.Error())
		metrics.IncProcessed("dlq")
		log.Error().Err(cause).Str("job_id", job.JobID).Int("attempts", job.Attempts+1).Msg("job moved to dlq")
		return
	}

	job.Attempts++
	delay := w.conf.Worker.RetryBaseDelay * time.Duration(1<<(job.Attempts-1))
	if j := w.conf.Worker.RetryJitter; j > 0 {
		delay += time.Duration(rand.Int63n(int64(j)))
	}
	next, _ := json.Marshal(job)
	_ = w.status.Set(ctx, job.JobID, store.Status{Status: store.StatusQueued, Message: "retry scheduled: " + cause.Error(), Attempts: job.Attempts})
	_ = w.q.EnqueueDelayed(ctx, next, time.Now().Add(delay))
	metrics.IncProcessed("retry")
	log.Warn().Err(cause).Str("job_id", job.JobID).Dur("delay", delay).Int("attempt", job.Attempts).Msg("job scheduled for retry")
}

func (w *Worker) monitorDepths(d depther) {
	defer w.wg.Done()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			stream, delayed, dlq, err := d.Depths(ctx)
			cancel()
			if err != nil {
				continue
			}
			metrics.SetQueueDepth("stream", stream)
			metrics.SetQueueDepth("delayed", delayed)
			metrics.SetQueueDepth("dlq", dlq)
		}
	}
}
