// Package notify implements the executor.Notifier contract: a best-effort
// desktop alert for terminal failed/blocked nodes. It never affects
// control flow — a failed notification only gets logged.
package notify

import (
	"fmt"
	"runtime"

	"github.com/go-toast/toast"
)

// ToastNotifier sends Windows toast notifications, the only platform the
// underlying library supports.
type ToastNotifier struct {
	appID        string
	dashboardURL string
}

// NewToastNotifier builds a notifier bound to a dashboard URL the toast's
// action button opens.
func NewToastNotifier(appID, dashboardURL string) *ToastNotifier {
	if appID == "" {
		appID = "PlanExec"
	}
	if dashboardURL == "" {
		dashboardURL = "http://localhost:8080"
	}
	return &ToastNotifier{appID: appID, dashboardURL: dashboardURL}
}

// Notify implements executor.Notifier.
func (t *ToastNotifier) Notify(title, message string) error {
	if runtime.GOOS != "windows" {
		return fmt.Errorf("notify: toast notifications only supported on windows")
	}
	notification := toast.Notification{
		AppID:   t.appID,
		Title:   title,
		Message: message,
		Audio:   toast.Default,
		Actions: []toast.Action{
			{Type: "protocol", Label: "Open Dashboard", Arguments: t.dashboardURL},
		},
	}
	return notification.Push()
}

// IsSupported reports whether this platform can show toast notifications.
func (t *ToastNotifier) IsSupported() bool { return runtime.GOOS == "windows" }

// NoopNotifier drops every notification, used on non-Windows hosts so the
// driver always has a concrete Notifier rather than a nil check at every
// call site.
type NoopNotifier struct{}

// Notify implements executor.Notifier as a no-op.
func (NoopNotifier) Notify(string, string) error { return nil }

// New picks ToastNotifier on Windows and NoopNotifier everywhere else.
func New(appID, dashboardURL string) interface {
	Notify(title, message string) error
} {
	if runtime.GOOS == "windows" {
		return NewToastNotifier(appID, dashboardURL)
	}
	return NoopNotifier{}
}
