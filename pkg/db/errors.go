package db

import "strings"

const sqliteUniquePrefix = "UNIQUE constraint failed: "

// IsUniqueViolation reports whether the provided error references a unique
// violation. When constraintName is provided, the helper additionally checks
// that the violation came from that constraint. Postgres errors carry the
// index name; sqlite reports "table.column" (comma-separated columns for a
// composite index), so the check also matches the constraint name with its
// "ux_" prefix stripped against a name rebuilt from the message.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if !strings.Contains(msg, "duplicate key value") &&
		!strings.Contains(msg, sqliteUniquePrefix) {
		return false
	}
	if constraintName == "" {
		return true
	}
	if strings.Contains(msg, constraintName) {
		return true
	}
	want := strings.TrimPrefix(constraintName, "ux_")
	if strings.Contains(strings.ReplaceAll(msg, ".", "_"), want) {
		return true
	}
	if joined := sqliteJoinedIndexName(msg); joined != "" {
		return strings.Contains(joined, want)
	}
	return false
}

// sqliteJoinedIndexName collapses a sqlite unique-violation message into
// "table_col1_col2" so composite indexes named after their columns still
// match.
func sqliteJoinedIndexName(msg string) string {
	idx := strings.Index(msg, sqliteUniquePrefix)
	if idx < 0 {
		return ""
	}
	var table string
	var cols []string
	for _, part := range strings.Split(msg[idx+len(sqliteUniquePrefix):], ",") {
		name, col, ok := strings.Cut(strings.TrimSpace(part), ".")
		if !ok {
			continue
		}
		table = name
		cols = append(cols, col)
	}
	if table == "" || len(cols) == 0 {
		return ""
	}
	return table + "_" + strings.Join(cols, "_")
}
