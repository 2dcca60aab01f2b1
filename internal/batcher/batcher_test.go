package batcher

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noxlabs/noxrun/internal/nerr"
)

// stubGenerator is a batchGenerator test double that records every
// GenerateBatch call instead of running real inference, letting tests
// assert on the coalescing loop's dispatch and ordering behaviour.
type stubGenerator struct {
	mu    sync.Mutex
	calls [][]string
}

func (s *stubGenerator) GenerateBatch(prompts []string, maxTokens int, repeatPenalty float32, repeatLastN int) ([]string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, append([]string(nil), prompts...))
	s.mu.Unlock()

	out := make([]string, len(prompts))
	for i, p := range prompts {
		out[i] = "reply:" + p
	}
	return out, nil
}

func (s *stubGenerator) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *stubGenerator) lastCall() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[len(s.calls)-1]
}

type generateResult struct {
	prompt string
	text   string
	err    error
}

func TestNewAppliesDefaults(t *testing.T) {
	b := New(nil, Options{})
	defer b.Close()

	require.Equal(t, defaultMaxBatchSize, b.maxBatchSize)
	require.Equal(t, defaultWindow, b.window)
	require.Equal(t, defaultMaxQueue, cap(b.incoming))
}

func TestNewHonoursExplicitOptions(t *testing.T) {
	b := New(nil, Options{MaxBatchSize: 2, BatchWindow: 5 * time.Millisecond, MaxQueueSize: 4})
	defer b.Close()

	require.Equal(t, 2, b.maxBatchSize)
	require.Equal(t, 5*time.Millisecond, b.window)
	require.Equal(t, 4, cap(b.incoming))
}

func TestGenerateFailsWithoutGenerator(t *testing.T) {
	b := New(nil, Options{})
	defer b.Close()

	_, err := b.Generate("hello", 8, 1.1, 64)
	require.Error(t, err)
	require.True(t, errors.Is(err, nerr.ErrGeneratorMissing))
}

func TestCloseIsIdempotent(t *testing.T) {
	b := New(nil, Options{})
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
}

// TestSizeTriggeredBatchCoalesces submits 5 requests 10ms apart against a
// batcher whose window is far longer than that: dispatch must be triggered
// by hitting maxBatchSize, landing all 5 in a single GenerateBatch call with
// each reply matching its own prompt.
func TestSizeTriggeredBatchCoalesces(t *testing.T) {
	stub := &stubGenerator{}
	b := New(stub, Options{MaxBatchSize: 5, BatchWindow: time.Second, MaxQueueSize: 10})
	defer b.Close()

	results := make(chan generateResult, 5)
	for i := 0; i < 5; i++ {
		prompt := fmt.Sprintf("prompt-%d", i)
		go func() {
			text, err := b.Generate(prompt, 8, 1.1, 64)
			results <- generateResult{prompt: prompt, text: text, err: err}
		}()
		time.Sleep(10 * time.Millisecond)
	}

	for i := 0; i < 5; i++ {
		r := <-results
		require.NoError(t, r.err)
		require.Equal(t, "reply:"+r.prompt, r.text)
	}
	require.Equal(t, 1, stub.callCount())
	require.Len(t, stub.lastCall(), 5)
}

// TestWindowTriggeredBatchCoalesces uses a batch size the 2 submitted
// requests never reach, so dispatch can only happen once the coalescing
// window elapses, still delivering both in one GenerateBatch call.
func TestWindowTriggeredBatchCoalesces(t *testing.T) {
	stub := &stubGenerator{}
	window := 20 * time.Millisecond
	b := New(stub, Options{MaxBatchSize: 10, BatchWindow: window, MaxQueueSize: 10})
	defer b.Close()

	start := time.Now()
	results := make(chan generateResult, 2)
	for i := 0; i < 2; i++ {
		prompt := fmt.Sprintf("p-%d", i)
		go func() {
			text, err := b.Generate(prompt, 8, 1.1, 64)
			results <- generateResult{prompt: prompt, text: text, err: err}
		}()
	}

	for i := 0; i < 2; i++ {
		r := <-results
		require.NoError(t, r.err)
		require.Equal(t, "reply:"+r.prompt, r.text)
	}
	require.GreaterOrEqual(t, time.Since(start), window)
	require.Equal(t, 1, stub.callCount())
	require.Len(t, stub.lastCall(), 2)
}

// TestCoalescingFailureFailsEveryRequestInBatch asserts GenerateBatch errors
// propagate to every request the batch held, not just the first.
func TestCoalescingFailureFailsEveryRequestInBatch(t *testing.T) {
	stub := &failingGenerator{err: errors.New("boom")}
	b := New(stub, Options{MaxBatchSize: 3, BatchWindow: time.Second, MaxQueueSize: 10})
	defer b.Close()

	results := make(chan generateResult, 3)
	for i := 0; i < 3; i++ {
		prompt := fmt.Sprintf("q-%d", i)
		go func() {
			text, err := b.Generate(prompt, 8, 1.1, 64)
			results <- generateResult{prompt: prompt, text: text, err: err}
		}()
	}

	for i := 0; i < 3; i++ {
		r := <-results
		require.Error(t, r.err)
		require.Equal(t, "", r.text)
	}
}

type failingGenerator struct{ err error }

func (f *failingGenerator) GenerateBatch(prompts []string, maxTokens int, repeatPenalty float32, repeatLastN int) ([]string, error) {
	return nil, f.err
}
