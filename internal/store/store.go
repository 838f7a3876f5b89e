// Package store holds the repositories over the relational schema. All
// finding state transitions go through here so that the audit writer can
// share their transactions.
package store

import (
	"database/sql"
	"encoding/json"

	"github.com/avelinecloud/compliancemgr/internal/database"
)

// Store bundles the repositories over one database.
type Store struct {
	db *database.DB
}

// New creates a Store
func New(db *database.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database handle.
func (s *Store) DB() *database.DB {
	return s.db
}

func marshalJSON(m map[string]interface{}) string {
	if m == nil {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func marshalJSONNullable(m map[string]interface{}) sql.NullString {
	if m == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: marshalJSON(m), Valid: true}
}

func unmarshalJSON(s string) map[string]interface{} {
	if s == "" {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}

func unmarshalJSONNullable(ns sql.NullString) map[string]interface{} {
	if !ns.Valid {
		return nil
	}
	return unmarshalJSON(ns.String)
}

func marshalStrings(ss []string) string {
	if ss == nil {
		ss = []string{}
	}
	data, err := json.Marshal(ss)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func unmarshalStrings(s string) []string {
	var ss []string
	if err := json.Unmarshal([]byte(s), &ss); err != nil {
		return nil
	}
	return ss
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt64(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}
