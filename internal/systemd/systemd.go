// Package systemd provides integration with systemd service management.
//
// When the helper is socket activated (connection: systemd, Accept=yes),
// each connection gets its own service instance. With Type=notify the
// instance reports READY once the hello token is on the wire and STOPPING
// when the session ends. Outside systemd both calls are no-ops.
package systemd

import (
	"log/slog"
	"os"

	"github.com/coreos/go-systemd/v22/daemon"
)

// NotifyReady sends sd_notify READY=1 to systemd.
// Returns true if notification was sent, false if systemd is not available.
func NotifyReady() bool {
	return notify(daemon.SdNotifyReady, "ready")
}

// NotifyStopping sends sd_notify STOPPING=1 to systemd.
// Returns true if notification was sent, false if systemd is not available.
func NotifyStopping() bool {
	return notify(daemon.SdNotifyStopping, "stopping")
}

func notify(state, name string) bool {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		slog.Warn("failed to send systemd notification",
			slog.String("state", name),
			slog.String("error", err.Error()),
		)
		return false
	}
	if sent {
		slog.Debug("sent systemd notification", slog.String("state", name))
	}
	return sent
}

// IsRunningUnderSystemd returns true if the process was started by systemd.
// Detected by checking for the NOTIFY_SOCKET environment variable.
func IsRunningUnderSystemd() bool {
	return os.Getenv("NOTIFY_SOCKET") != ""
}
