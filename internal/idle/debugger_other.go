//go:build !linux

package idle

// DebuggerAttached always reports false where tracer detection is not
// available.
func DebuggerAttached() bool { return false }
