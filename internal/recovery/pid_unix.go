//go:build unix

package recovery

import "golang.org/x/sys/unix"

// isProcessAlive sends signal 0 to pid: delivery is skipped but error
// reporting still happens, the portable way to probe liveness without
// actually affecting the process. Adapted from the Windows-only
// OpenProcess probe this package's teacher used, ported to the syscall
// every unix target shares.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err != unix.ESRCH
}
