//go:build !linux && !darwin && !windows

package logger

// isTerminal reports whether the file descriptor is a terminal.
// Fallback for platforms without an ioctl-based check: assume not a TTY
// so output stays uncolored.
func isTerminal(fd uintptr) bool {
	return false
}
