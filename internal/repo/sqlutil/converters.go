// Package sqlutil provides small database/sql null-type converters
// shared by every repository in internal/repo.
package sqlutil

import (
	"database/sql"
	"time"
)

// ToNullString converts a possibly-nil string pointer to sql.NullString,
// Valid=false for nil or empty.
func ToNullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// ToNullStringValue converts a plain string to sql.NullString,
// Valid=false for empty.
func ToNullStringValue(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// ToNullTime converts a possibly-nil time pointer to sql.NullTime.
func ToNullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// ToNullInt64 converts a possibly-nil int64 pointer to sql.NullInt64.
func ToNullInt64(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *n, Valid: true}
}

// FromNullString returns nil for an invalid sql.NullString, else a
// pointer to its value.
func FromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// FromNullTime returns nil for an invalid sql.NullTime, else a pointer
// to its value.
func FromNullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
