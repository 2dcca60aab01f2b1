package runtime

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitIsSingleton(t *testing.T) {
	a := Init(nil)
	b := Init(nil)
	require.Same(t, a, b)
	require.GreaterOrEqual(t, a.Workers, 1)
}

func TestSubmitRunsOnPool(t *testing.T) {
	p := Init(nil)

	var n int64
	const jobs = 50
	done := make(chan struct{}, jobs)
	for i := 0; i < jobs; i++ {
		go func() {
			p.Submit(func() {
				atomic.AddInt64(&n, 1)
			})
			done <- struct{}{}
		}()
	}
	for i := 0; i < jobs; i++ {
		<-done
	}
	require.Equal(t, int64(jobs), atomic.LoadInt64(&n))
}
