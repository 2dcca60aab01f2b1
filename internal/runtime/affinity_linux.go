//go:build linux

package runtime

import "golang.org/x/sys/unix"

func affinitySupported() bool { return true }

// pinToCore binds the calling OS thread to a single core, core%NumCPU,
// via sched_setaffinity(2). Callers must have already called
// runtime.LockOSThread.
func pinToCore(core int) error {
	n := numCPU()
	if n < 1 {
		n = 1
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(core % n)
	return unix.SchedSetaffinity(0, &set)
}
