package enums

import "fmt"

// PointKind maps to the point_kind_enum enum in Postgres.
type PointKind string

const (
	PointKindFree PointKind = "free"
	PointKindPaid PointKind = "paid"
)

var validPointKinds = []PointKind{
	PointKindFree,
	PointKindPaid,
}

// ConsumePriority orders kinds for consumption: lower ranks are debited first.
// Free tranches are always exhausted before any paid tranche is touched.
func (k PointKind) ConsumePriority() int {
	switch k {
	case PointKindFree:
		return 0
	case PointKindPaid:
		return 1
	default:
		return 2
	}
}

// IsValid reports whether the value matches the canonical point kind enum.
func (k PointKind) IsValid() bool {
	for _, candidate := range validPointKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParsePointKind converts raw input into PointKind.
func ParsePointKind(value string) (PointKind, error) {
	for _, candidate := range validPointKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid point kind %q", value)
}
