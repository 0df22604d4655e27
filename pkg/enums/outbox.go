package enums

import "fmt"

// OutboxEventType maps to the event_type_enum enum in Postgres.
type OutboxEventType string

const (
	OutboxEventTypePointsGranted  OutboxEventType = "points.granted"
	OutboxEventTypePointsConsumed OutboxEventType = "points.consumed"
	OutboxEventTypePointsExpired  OutboxEventType = "points.expired"
)

var validOutboxEventTypes = []OutboxEventType{
	OutboxEventTypePointsGranted,
	OutboxEventTypePointsConsumed,
	OutboxEventTypePointsExpired,
}

// IsValid reports whether the value matches the canonical event type enum.
func (t OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox event type %q", value)
}

// OutboxAggregateType maps to the aggregate_type_enum enum in Postgres.
type OutboxAggregateType string

const (
	OutboxAggregateTypePointTranche OutboxAggregateType = "point_tranche"
	OutboxAggregateTypePointUsage   OutboxAggregateType = "point_usage_record"
	OutboxAggregateTypeUser         OutboxAggregateType = "user"
)

var validOutboxAggregateTypes = []OutboxAggregateType{
	OutboxAggregateTypePointTranche,
	OutboxAggregateTypePointUsage,
	OutboxAggregateTypeUser,
}

// IsValid reports whether the value matches the canonical aggregate type enum.
func (t OutboxAggregateType) IsValid() bool {
	for _, candidate := range validOutboxAggregateTypes {
		if candidate == t {
			return true
		}
	}
	return false
}
