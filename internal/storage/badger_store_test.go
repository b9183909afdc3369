package storage

import (
	"testing"

	"tigsync/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

func (r *record) GetID() string { return r.ID }

func newTestStore(t *testing.T, prefix string) *BadgerStore {
	t.Helper()
	db, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewBadgerStore(db, prefix)
}

func TestBadgerStore_CRUD(t *testing.T) {
	s := newTestStore(t, "rec")

	require.NoError(t, s.Create(&record{ID: "a", Value: "1"}))

	err := s.Create(&record{ID: "a", Value: "dup"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))

	var got record
	require.NoError(t, s.Get("a", &got))
	assert.Equal(t, "1", got.Value)

	require.NoError(t, s.Update(&record{ID: "a", Value: "2"}))
	require.NoError(t, s.Get("a", &got))
	assert.Equal(t, "2", got.Value)

	err = s.Update(&record{ID: "missing"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	require.NoError(t, s.Delete("a"))
	err = s.Get("a", &got)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	err = s.Delete("a")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	err = s.Create(&record{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestBadgerStore_ListIsolatedByPrefix(t *testing.T) {
	db, err := Open("")
	require.NoError(t, err)
	defer db.Close()

	tokens := NewBadgerStore(db, "token")
	other := NewBadgerStore(db, "other")

	require.NoError(t, tokens.Create(&record{ID: "t1", Value: "x"}))
	require.NoError(t, tokens.Create(&record{ID: "t2", Value: "y"}))
	require.NoError(t, other.Create(&record{ID: "o1", Value: "z"}))

	var list []record
	require.NoError(t, tokens.List(&list))
	assert.Len(t, list, 2)

	ids, err := tokens.IDs()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"t1", "t2"}, ids)

	var empty []record
	require.NoError(t, NewBadgerStore(db, "none").List(&empty))
	assert.Empty(t, empty)
}
