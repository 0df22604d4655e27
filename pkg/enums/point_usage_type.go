package enums

import "fmt"

// PointUsageType maps to the point_usage_type_enum enum in Postgres.
type PointUsageType string

const (
	PointUsageTypeChat            PointUsageType = "chat"
	PointUsageTypeImageGeneration PointUsageType = "image_generation"
	PointUsageTypeBoost           PointUsageType = "boost"
	PointUsageTypeOther           PointUsageType = "other"
)

var validPointUsageTypes = []PointUsageType{
	PointUsageTypeChat,
	PointUsageTypeImageGeneration,
	PointUsageTypeBoost,
	PointUsageTypeOther,
}

// IsValid reports whether the value matches the canonical usage type enum.
func (u PointUsageType) IsValid() bool {
	for _, candidate := range validPointUsageTypes {
		if candidate == u {
			return true
		}
	}
	return false
}

// ParsePointUsageType converts raw input into PointUsageType.
func ParsePointUsageType(value string) (PointUsageType, error) {
	for _, candidate := range validPointUsageTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid point usage type %q", value)
}
