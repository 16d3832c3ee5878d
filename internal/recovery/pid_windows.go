//go:build windows

package recovery

import "golang.org/x/sys/windows"

// isProcessAlive opens the process with query-only rights; success means
// the pid still resolves to a live process.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(handle)
	return true
}
