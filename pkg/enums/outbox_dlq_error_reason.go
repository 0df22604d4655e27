package enums

// OutboxDLQErrorReason classifies why an outbox event was parked.
type OutboxDLQErrorReason string

const (
	OutboxDLQErrorReasonMaxAttempts OutboxDLQErrorReason = "max_attempts_exceeded"
	OutboxDLQErrorReasonUnroutable  OutboxDLQErrorReason = "unroutable_event"
	OutboxDLQErrorReasonBadPayload  OutboxDLQErrorReason = "bad_payload"
)

var validOutboxDLQErrorReasons = []OutboxDLQErrorReason{
	OutboxDLQErrorReasonMaxAttempts,
	OutboxDLQErrorReasonUnroutable,
	OutboxDLQErrorReasonBadPayload,
}

// IsValid reports whether the value matches a known DLQ reason.
func (r OutboxDLQErrorReason) IsValid() bool {
	for _, candidate := range validOutboxDLQErrorReasons {
		if candidate == r {
			return true
		}
	}
	return false
}
