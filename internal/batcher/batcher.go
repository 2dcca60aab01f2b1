// Package batcher coalesces concurrent generation requests into batches
// dispatched to a single shared generator, bounding per-request latency
// to a coalescing time window while amortising prefill cost across a
// batch.
package batcher

import (
	"context"
	"sync"
	"time"

	"github.com/emirpasic/gods/v2/queues/linkedlistqueue"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/noxlabs/noxrun/internal/nerr"
)

// batchGenerator is the subset of *generator.Generator's surface the
// coalescing loop needs. Extracted so tests can inject a stub instead of
// loading a real model.
type batchGenerator interface {
	GenerateBatch(prompts []string, maxTokens int, repeatPenalty float32, repeatLastN int) ([]string, error)
}

// Request is one caller's generation ask, queued until the batcher
// coalesces it with others.
type Request struct {
	ID            uuid.UUID
	Prompt        string
	MaxTokens     int
	RepeatPenalty float32
	RepeatLastN   int
	reply         chan Result
}

// Result is delivered exactly once per Request, success or error.
type Result struct {
	ID   uuid.UUID
	Text string
	Err  error
}

// Options configures a Batcher. Zero values fall back to spec.md §4.7's
// defaults (8 / 100ms / 100).
type Options struct {
	MaxBatchSize int
	BatchWindow  time.Duration
	MaxQueueSize int
}

const (
	defaultMaxBatchSize = 8
	defaultWindow       = 100 * time.Millisecond
	defaultMaxQueue     = 100
	pollInterval        = time.Millisecond
)

// Batcher queues concurrent Generate callers, coalescing them within a
// time window (or once max batch size is reached) before dispatching to
// the owned generator.
type Batcher struct {
	gen batchGenerator

	maxBatchSize int
	window       time.Duration

	incoming chan *Request
	genMu    sync.Mutex
	dispatch semaphore.Weighted
	wg       errgroup.Group

	closeOnce sync.Once
	closed    chan struct{}
}

// New builds a Batcher bound to gen. gen == nil is valid and produces a
// Batcher that fails every request with GeneratorMissing. Production callers
// pass a *generator.Generator; tests pass a stub satisfying batchGenerator.
func New(gen batchGenerator, opts Options) *Batcher {
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = defaultMaxBatchSize
	}
	if opts.BatchWindow <= 0 {
		opts.BatchWindow = defaultWindow
	}
	if opts.MaxQueueSize <= 0 {
		opts.MaxQueueSize = defaultMaxQueue
	}

	b := &Batcher{
		gen:          gen,
		maxBatchSize: opts.MaxBatchSize,
		window:       opts.BatchWindow,
		incoming:     make(chan *Request, opts.MaxQueueSize),
		dispatch:     *semaphore.NewWeighted(4),
		closed:       make(chan struct{}),
	}
	go b.run()
	return b
}

// Generate queues prompt and blocks until its batch is dispatched and a
// result is available.
func (b *Batcher) Generate(prompt string, maxTokens int, repeatPenalty float32, repeatLastN int) (string, error) {
	if b.gen == nil {
		return "", &generatorMissingError{}
	}

	req := &Request{
		ID:            uuid.New(),
		Prompt:        prompt,
		MaxTokens:     maxTokens,
		RepeatPenalty: repeatPenalty,
		RepeatLastN:   repeatLastN,
		reply:         make(chan Result, 1),
	}

	select {
	case b.incoming <- req:
	case <-b.closed:
		return "", &batcherClosedError{}
	}

	select {
	case res := <-req.reply:
		return res.Text, res.Err
	case <-b.closed:
		return "", &batcherClosedError{}
	}
}

// Close stops the coalescing loop. In-flight dispatches are allowed to
// finish; Close waits for them.
func (b *Batcher) Close() error {
	b.closeOnce.Do(func() { close(b.closed) })
	return b.wg.Wait()
}

// run is the single cooperative coalescing loop: it never touches the
// generator directly, offloading every dispatch to a separate goroutine
// so this loop is never occupied by inference work.
func (b *Batcher) run() {
	pending := linkedlistqueue.New[*Request]()
	var windowStart time.Time

	drain := func() []*Request {
		batch := pending.Values()
		pending.Clear()
		return batch
	}

	for {
		if pending.Empty() {
			select {
			case req, ok := <-b.incoming:
				if !ok {
					return
				}
				pending.Enqueue(req)
				windowStart = time.Now()
			case <-b.closed:
				return
			}
			continue
		}

		if time.Since(windowStart) >= b.window || pending.Size() >= b.maxBatchSize {
			b.dispatchBatch(drain())
			continue
		}

		select {
		case req, ok := <-b.incoming:
			if !ok {
				b.dispatchBatch(drain())
				return
			}
			pending.Enqueue(req)
			if pending.Size() >= b.maxBatchSize {
				b.dispatchBatch(drain())
			}
		case <-time.After(pollInterval):
			// loop back around and re-check the window/size conditions
		case <-b.closed:
			b.dispatchBatch(drain())
			return
		}
	}
}

func (b *Batcher) dispatchBatch(batch []*Request) {
	if err := b.dispatch.Acquire(context.Background(), 1); err != nil {
		b.failAll(batch, err)
		return
	}
	b.wg.Go(func() error {
		defer b.dispatch.Release(1)
		b.runBatch(batch)
		return nil
	})
}

// runBatch takes the generator's exclusive lock only for the duration of
// the blocking GenerateBatch call, per spec.md §5's mutation discipline.
func (b *Batcher) runBatch(batch []*Request) {
	prompts := make([]string, len(batch))
	for i, r := range batch {
		prompts[i] = r.Prompt
	}
	first := batch[0]

	b.genMu.Lock()
	responses, err := b.gen.GenerateBatch(prompts, first.MaxTokens, first.RepeatPenalty, first.RepeatLastN)
	b.genMu.Unlock()

	if err != nil {
		b.failAll(batch, err)
		return
	}
	for i, r := range batch {
		deliver(r, Result{ID: r.ID, Text: responses[i]})
	}
}

func (b *Batcher) failAll(batch []*Request, err error) {
	for _, r := range batch {
		deliver(r, Result{ID: r.ID, Err: err})
	}
}

// deliver is a non-blocking send into the request's single-slot reply
// channel: if the caller already abandoned it (cancelled, timed out), the
// post fails silently per spec.md §5's cancellation semantics.
func deliver(r *Request, res Result) {
	select {
	case r.reply <- res:
	default:
	}
}

type generatorMissingError struct{}

func (e *generatorMissingError) Error() string { return "batcher has no generator configured" }
func (e *generatorMissingError) Unwrap() error { return nerr.ErrGeneratorMissing }

type batcherClosedError struct{}

func (e *batcherClosedError) Error() string { return "batcher closed" }
func (e *batcherClosedError) Unwrap() error { return nerr.ErrBatcherClosed }
