package broker

import "kimibroker/pkg/logging"

// Notifier receives user-facing notices from background operations. The host
// application plugs in its own notification surface; background refresh
// failures are reported here instead of being raised, because the next
// scheduled tick retries them.
type Notifier interface {
	Notify(message string)
}

// LogNotifier routes notices to the logging subsystem. It is the default
// when the host application does not provide its own surface.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(message string) {
	logging.Warn("Notifier", "%s", message)
}
