//go:build !linux

package runtime

func affinitySupported() bool { return false }

func pinToCore(core int) error { return nil }
