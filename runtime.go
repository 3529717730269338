package vault

import "time"

// Runtime is the clock capability injected into services so that tests
// can advance time deterministically.
type Runtime interface {
	// NowMs returns the current time in milliseconds since the epoch.
	NowMs() int64
	// Sleep pauses the calling goroutine for at least d.
	Sleep(d time.Duration)
}

type realRuntime struct{}

func (realRuntime) NowMs() int64 {
	return time.Now().UnixMilli()
}

func (realRuntime) Sleep(d time.Duration) {
	time.Sleep(d)
}

// RealRuntime returns a Runtime backed by the system clock.
func RealRuntime() Runtime {
	return realRuntime{}
}
