package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWhere_Build(t *testing.T) {
	clause, args := NewWhere().Build()
	assert.Empty(t, clause)
	assert.Nil(t, args)

	clause, args = NewWhere().
		Eq("worker_id", "etl-1").
		EqBool("running", true).
		In("status", "SUCCESS", "FAILURE").
		Build()

	assert.Equal(t, " WHERE worker_id = ? AND running = ? AND status IN (?, ?)", clause)
	assert.Equal(t, []interface{}{"etl-1", 1, "SUCCESS", "FAILURE"}, args)
}

func TestWhere_EmptyInMatchesNothing(t *testing.T) {
	w := NewWhere().In("id")
	clause, args := w.Build()
	assert.Equal(t, " WHERE 1 = 0", clause)
	assert.Empty(t, args)
	assert.False(t, w.Empty())
}
