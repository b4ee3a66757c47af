// ABOUTME: CPU time fallback for platforms without getrusage
// ABOUTME: Reports zero; wall time remains the only pause measurement

//go:build !unix

package heap

func processCPUSeconds() float64 { return 0 }
