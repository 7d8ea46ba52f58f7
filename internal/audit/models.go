// Package audit records request-lifecycle events for administrators.
package audit

import "time"

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time
	RequestID string
	EntityID  string
	Form      string
	Actor     string
	Action    string
	Detail    string
}

type AuditEvent string

const (
	EventRequestSubmitted   AuditEvent = "request_submitted"
	EventRequestAccepted    AuditEvent = "request_accepted"
	EventRequestRejected    AuditEvent = "request_rejected"
	EventRequestDropped     AuditEvent = "request_dropped"
	EventRequestUpdated     AuditEvent = "request_updated"
	EventAutoProcessed      AuditEvent = "auto_processed"
	EventInvitationConsumed AuditEvent = "invitation_consumed"
	EventInvitationCreated  AuditEvent = "invitation_created"
	EventInvitationSent     AuditEvent = "invitation_sent"
	EventInvitationRemoved  AuditEvent = "invitation_removed"
	EventValueConfirmed     AuditEvent = "value_confirmed"
)
