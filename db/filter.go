package db

import (
	"strings"
)

// Where accumulates SQL WHERE clauses and their parameters.
// Store filters compile themselves into a Where so callers never build SQL.
//
//	w := db.NewWhere().Eq("worker_id", "etl-1").EqBool("running", false)
//	clause, args := w.Build()
//	rows, err := tx.Query("SELECT ... FROM jobs"+clause, args...)
type Where struct {
	clauses []string
	args    []interface{}
}

// NewWhere returns an empty clause set
func NewWhere() *Where {
	return &Where{}
}

// Add appends a raw clause with its arguments
func (w *Where) Add(clause string, args ...interface{}) *Where {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
	return w
}

// Eq appends "column = ?"
func (w *Where) Eq(column string, value interface{}) *Where {
	return w.Add(column+" = ?", value)
}

// EqBool appends "column = ?" with SQLite's integer booleans
func (w *Where) EqBool(column string, value bool) *Where {
	v := 0
	if value {
		v = 1
	}
	return w.Add(column+" = ?", v)
}

// In appends "column IN (?, ?, ...)". An empty list matches nothing.
func (w *Where) In(column string, values ...interface{}) *Where {
	if len(values) == 0 {
		return w.Add("1 = 0")
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
	return w.Add(column+" IN ("+placeholders+")", values...)
}

// Empty reports whether no clause was added
func (w *Where) Empty() bool {
	return len(w.clauses) == 0
}

// Build returns " WHERE a AND b" (or "" when empty) and the arguments
func (w *Where) Build() (string, []interface{}) {
	if len(w.clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(w.clauses, " AND "), w.args
}
