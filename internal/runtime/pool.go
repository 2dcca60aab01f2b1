// Package runtime builds the process-global, pinned worker pool the
// tensor backend dispatches kernel work onto, plus the one-time SIMD
// feature probe used to pick a dispatch tag for it. Both are lazily
// constructed exactly once via sync.Once; a second Init call returns the
// first instance untouched, matching spec.md §5's "lazy once-cell,
// re-initialisation forbidden" rule.
package runtime

import (
	"log/slog"
	stdruntime "runtime"
	"sync"

	"github.com/klauspost/cpuid/v2"
)

// Pool is the fixed-size worker pool kernel work is dispatched onto.
// Workers is cpu_count-1 by default (never below 1); SIMDTag names the
// widest vector instruction set detected, for backends that branch on it;
// Pinned reports whether affinity pinning actually took effect.
type Pool struct {
	Workers int
	SIMDTag string
	Pinned  bool

	jobs chan func()
}

var (
	once     sync.Once
	instance *Pool
)

// Init builds the process-global pool on first call; every later call
// returns the same *Pool regardless of logger. Safe for concurrent use.
func Init(logger *slog.Logger) *Pool {
	once.Do(func() {
		instance = build(logger)
	})
	return instance
}

func build(logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}

	n := stdruntime.NumCPU() - 1
	if n < 1 {
		n = 1
	}

	pinned := affinitySupported()
	if !pinned {
		logger.Warn("cpu affinity pinning unavailable on this platform, workers will run unpinned", "goos", stdruntime.GOOS)
	}

	p := &Pool{
		Workers: n,
		SIMDTag: simdTag(),
		Pinned:  pinned,
		jobs:    make(chan func()),
	}
	for i := 0; i < n; i++ {
		go p.worker(i)
	}

	logger.Info("inference worker pool initialised", "workers", n, "simd", p.SIMDTag, "pinned", pinned)
	return p
}

func numCPU() int { return stdruntime.NumCPU() }

func (p *Pool) worker(id int) {
	stdruntime.LockOSThread()
	if p.Pinned {
		if err := pinToCore(id); err != nil {
			slog.Default().Warn("failed to pin worker to core", "worker", id, "error", err)
		}
	}
	for job := range p.jobs {
		job()
	}
}

// Submit runs fn on the pool and blocks until it returns. Callers that
// want to fan work out across the pool should call Submit from their own
// goroutine per unit of work and synchronise completion themselves (see
// internal/model's per-token kernel dispatch).
func (p *Pool) Submit(fn func()) {
	done := make(chan struct{})
	p.jobs <- func() {
		defer close(done)
		fn()
	}
	<-done
}

// simdTag names the widest vector extension klauspost/cpuid detects,
// used by backends to pick a kernel variant. The in-tree reference
// backend doesn't branch on it (it has no vectorised kernels to pick
// between) but the field is part of the contract a real tensor library
// would read.
func simdTag() string {
	switch {
	case cpuid.CPU.Has(cpuid.AVX512F):
		return "avx512"
	case cpuid.CPU.Has(cpuid.AVX2):
		return "avx2"
	case cpuid.CPU.Has(cpuid.AVX):
		return "avx"
	case cpuid.CPU.Has(cpuid.ASIMD):
		return "neon"
	default:
		return "generic"
	}
}
