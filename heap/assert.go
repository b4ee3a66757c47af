// ABOUTME: Contract-violation assertions guarded by a package-level constant
// ABOUTME: Violations are collector/runtime bugs, not recoverable errors

package heap

// heapAsserts enables contract checks throughout the heap. Violations are
// programming errors in the collector or the embedding runtime; they panic
// rather than return errors. Set to false to compile the checks out.
const heapAsserts = true

func assert(cond bool, msg string) {
	if heapAsserts && !cond {
		panic("heap: " + msg)
	}
}
