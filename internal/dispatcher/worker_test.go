package dispatcher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/local/imagetext/internal/ai"
	"github.com/local/imagetext/internal/store"
)

type fakeQueue struct {
	cancelled  map[string]bool
	acks       []string
	delayed    [][]byte
	dlq        [][]byte
	dlqReasons []string
}

func newFakeQueue() *fakeQueue { return &fakeQueue{cancelled: map[string]bool{}} }

func (q *fakeQueue) Dequeue(context.Context, string, time.Duration) (string, []byte, error) {
	return "", nil, nil
}

func (q *fakeQueue) Ack(_ context.Context, msgID string) error {
	q.acks = append(q.acks, msgID)
	return nil
}

func (q *fakeQueue) EnqueueDelayed(_ context.Context, payload []byte, _ time.Time) error {
	q.delayed = append(q.delayed, payload)
	return nil
}

func (q *fakeQueue) AddDLQ(_ context.Context, payload []byte, reason string) error {
	q.dlq = append(q.dlq, payload)
	q.dlqReasons = append(q.dlqReasons, reason)
	return nil
}

func (q *fakeQueue) IsCancelled(_ context.Context, jobID string) (bool, error) {
	return q.cancelled[jobID], nil
}

type fakeStatus struct {
	statuses map[string][]store.Status
	results  map[string]store.Result
}

func newFakeStatus() *fakeStatus {
	return &fakeStatus{statuses: map[string][]store.Status{}, results: map[string]store.Result{}}
}

func (s *fakeStatus) Set(_ context.Context, jobID string, st store.Status) error {
	s.statuses[jobID] = append(s.statuses[jobID], st)
	return nil
}

func (s *fakeStatus) SaveResult(_ context.Context, jobID string, r store.Result) error {
	s.results[jobID] = r
	return nil
}

func (s *fakeStatus) last(jobID string) store.Status {
	list := s.statuses[jobID]
	if len(list) == 0 {
		return store.Status{}
	}
	return list[len(list)-1]
}

func jobPayload(t *testing.T, job Job) []byte {
	t.Helper()
	data, err := json.Marshal(job)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func processWorker(q *fakeQueue, st *fakeStatus, runners ...*stubRunner) *Worker {
	w := newTestWorker(failoverConfig(), newFakeBreaker(), runners...)
	w.q = q
	w.status = st
	return w
}

func TestProcess_SuccessSavesResult(t *testing.T) {
	q := newFakeQueue()
	st := newFakeStatus()
	dial := &stubRunner{provider: "dial", text: "a lighthouse at dusk"}
	w := processWorker(q, st, dial)

	b64 := base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\nimage-bytes"))
	w.process("m1", jobPayload(t, Job{JobID: "job-1", ImageB64: b64, Prompt: "describe"}))

	if got := st.last("job-1").Status; got != store.StatusDone {
		t.Errorf("final status = %q, want %q", got, store.StatusDone)
	}
	res, ok := st.results["job-1"]
	if !ok || res.Text != "a lighthouse at dusk" || res.Provider != "dial" {
		t.Errorf("saved result = %+v", res)
	}
	if len(q.acks) != 1 || q.acks[0] != "m1" {
		t.Errorf("acks = %v, want [m1]", q.acks)
	}
}

func TestProcess_CancelledJobSkipsAdapter(t *testing.T) {
	q := newFakeQueue()
	q.cancelled["job-2"] = true
	st := newFakeStatus()
	dial := &stubRunner{provider: "dial", text: "never"}
	w := processWorker(q, st, dial)

	w.process("m2", jobPayload(t, Job{JobID: "job-2", ImageURL: "https://x/y.png"}))

	if dial.calls != 0 {
		t.Errorf("adapter called %d times for cancelled job", dial.calls)
	}
	if got := st.last("job-2").Status; got != store.StatusCancelled {
		t.Errorf("status = %q, want %q", got, store.StatusCancelled)
	}
	if len(q.acks) != 1 {
		t.Errorf("cancelled job must still be acked, acks = %v", q.acks)
	}
}

func TestProcess_UndecodablePayloadGoesToDLQ(t *testing.T) {
	q := newFakeQueue()
	st := newFakeStatus()
	w := processWorker(q, st, &stubRunner{provider: "dial"})

	w.process("m3", []byte("{not json"))

	if len(q.dlq) != 1 {
		t.Fatalf("dlq = %d entries, want 1", len(q.dlq))
	}
}

func TestProcess_MissingImageIsFatal(t *testing.T) {
	q := newFakeQueue()
	st := newFakeStatus()
	dial := &stubRunner{provider: "dial", text: "never"}
	w := processWorker(q, st, dial)

	w.process("m4", jobPayload(t, Job{JobID: "job-4"}))

	if got := st.last("job-4").Status; got != store.StatusFailed {
		t.Errorf("status = %q, want %q", got, store.StatusFailed)
	}
	if len(q.dlq) != 1 || len(q.delayed) != 0 {
		t.Errorf("dlq=%d delayed=%d, want fatal error routed to dlq", len(q.dlq), len(q.delayed))
	}
	if dial.calls != 0 {
		t.Errorf("adapter called %d times for invalid job", dial.calls)
	}
}

func TestProcess_AmbiguousImageIsFatal(t *testing.T) {
	q := newFakeQueue()
	st := newFakeStatus()
	dial := &stubRunner{provider: "dial", text: "never"}
	w := processWorker(q, st, dial)

	b64 := base64.StdEncoding.EncodeToString([]byte("image-bytes"))
	w.process("m8", jobPayload(t, Job{JobID: "job-8", ImageB64: b64, ImageURL: "https://x/y.png"}))

	if got := st.last("job-8").Status; got != store.StatusFailed {
		t.Errorf("status = %q, want %q", got, store.StatusFailed)
	}
	if len(q.dlq) != 1 || len(q.delayed) != 0 {
		t.Errorf("dlq=%d delayed=%d, want fatal error routed to dlq", len(q.dlq), len(q.delayed))
	}
	if dial.calls != 0 {
		t.Errorf("adapter called %d times for ambiguous job", dial.calls)
	}
}

func TestProcess_InvalidBase64IsFatal(t *testing.T) {
	q := newFakeQueue()
	st := newFakeStatus()
	w := processWorker(q, st, &stubRunner{provider: "dial"})

	w.process("m5", jobPayload(t, Job{JobID: "job-5", ImageB64: "!!not-base64!!"}))

	if len(q.dlq) != 1 {
		t.Fatalf("dlq = %d entries, want 1", len(q.dlq))
	}
	var job Job
	if err := json.Unmarshal(q.dlq[0], &job); err != nil || job.JobID != "job-5" {
		t.Errorf("dlq payload = %s", q.dlq[0])
	}
}

func TestProcess_TransientErrorSchedulesRetry(t *testing.T) {
	q := newFakeQueue()
	st := newFakeStatus()
	dial := &stubRunner{provider: "dial", errs: []error{ai.ErrRateLimited, ai.ErrRateLimited}}
	w := processWorker(q, st, dial)

	w.process("m6", jobPayload(t, Job{JobID: "job-6", ImageURL: "https://x/y.png"}))

	if len(q.delayed) != 1 {
		t.Fatalf("delayed = %d entries, want 1", len(q.delayed))
	}
	var retried Job
	if err := json.Unmarshal(q.delayed[0], &retried); err != nil {
		t.Fatal(err)
	}
	if retried.Attempts != 1 {
		t.Errorf("retried attempts = %d, want 1", retried.Attempts)
	}
	if got := st.last("job-6").Status; got != store.StatusQueued {
		t.Errorf("status = %q, want %q", got, store.StatusQueued)
	}
}

func TestProcess_ExhaustedAttemptsGoToDLQ(t *testing.T) {
	q := newFakeQueue()
	st := newFakeStatus()
	dial := &stubRunner{provider: "dial", errs: []error{ai.ErrRateLimited, ai.ErrRateLimited}}
	w := processWorker(q, st, dial)

	w.process("m7", jobPayload(t, Job{JobID: "job-7", ImageURL: "https://x/y.png", Attempts: 2}))

	if len(q.dlq) != 1 || len(q.delayed) != 0 {
		t.Errorf("dlq=%d delayed=%d, want exhausted job in dlq", len(q.dlq), len(q.delayed))
	}
	if got := st.last("job-7").Status; got != store.StatusFailed {
		t.Errorf("status = %q, want %q", got, store.StatusFailed)
	}
}
