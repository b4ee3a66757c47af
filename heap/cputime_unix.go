// ABOUTME: Process CPU time via getrusage for GC pause accounting
// ABOUTME: Unix-only; other platforms fall back to zero

//go:build unix

package heap

import "golang.org/x/sys/unix"

// processCPUSeconds returns the process's cumulative user+system CPU time.
func processCPUSeconds() float64 {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0
	}
	return timevalSecs(ru.Utime) + timevalSecs(ru.Stime)
}

func timevalSecs(tv unix.Timeval) float64 {
	return float64(tv.Sec) + float64(tv.Usec)/1e6
}
