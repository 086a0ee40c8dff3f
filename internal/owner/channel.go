// Package owner is the UI-facing channel: each connected UI surface is a
// Channel that session events are sent to. The registry only depends on
// the Channel interface; the websocket server provides the real thing.
package owner

// Event names sent over a channel.
const (
	EventProcessData   = "process-data"
	EventProcessExit   = "process-exit"
	EventRestartNeeded = "restart-needed"
	EventNotification  = "notification"
	EventActivity      = "activity"
)

// Channel delivers session-scoped events to one UI surface. Valid
// reports whether the underlying connection is still usable; senders
// check it to avoid writing to a torn-down UI.
type Channel interface {
	Send(sessionID, event string, payload any) error
	Valid() bool
}
