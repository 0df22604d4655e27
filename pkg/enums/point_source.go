package enums

import "fmt"

// PointSource maps to the point_source_enum enum in Postgres.
type PointSource string

const (
	PointSourceAttendance   PointSource = "attendance"
	PointSourcePurchase     PointSource = "purchase"
	PointSourceAdminGrant   PointSource = "admin_grant"
	PointSourceMigration    PointSource = "migration"
	PointSourceRegistration PointSource = "registration"
)

var validPointSources = []PointSource{
	PointSourceAttendance,
	PointSourcePurchase,
	PointSourceAdminGrant,
	PointSourceMigration,
	PointSourceRegistration,
}

// IsValid reports whether the value matches the canonical point source enum.
func (s PointSource) IsValid() bool {
	for _, candidate := range validPointSources {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParsePointSource converts raw input into PointSource.
func ParsePointSource(value string) (PointSource, error) {
	for _, candidate := range validPointSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid point source %q", value)
}
