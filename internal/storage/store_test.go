package storage

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() (*Store, *clock.Mock) {
	mock := clock.NewMock()
	return New(mock), mock
}

func TestSetGet(t *testing.T) {
	s, _ := newTestStore()

	s.Set("foo", []byte("bar"), nil)

	value, ok, err := s.Get("foo")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("bar"), value)

	_, ok, err = s.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetOverwrites(t *testing.T) {
	s, mock := newTestStore()

	expiry := mock.Now().Add(100 * time.Millisecond)
	s.Set("foo", []byte("old"), &expiry)
	s.Set("foo", []byte("new"), nil)

	// The second SET replaced the expiry, so advancing past the old
	// deadline changes nothing.
	mock.Add(time.Second)

	value, ok, err := s.Get("foo")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("new"), value)
}

func TestSetIdempotent(t *testing.T) {
	s, _ := newTestStore()

	s.Set("k", []byte("v"), nil)
	s.Set("k", []byte("v"), nil)

	assert.Equal(t, 1, s.Len())
	value, ok, err := s.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), value)
}

func TestLazyExpiry(t *testing.T) {
	s, mock := newTestStore()

	expiry := mock.Now().Add(100 * time.Millisecond)
	s.Set("foo", []byte("bar"), &expiry)

	value, ok, err := s.Get("foo")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("bar"), value)

	mock.Add(200 * time.Millisecond)

	_, ok, err = s.Get("foo")
	require.NoError(t, err)
	assert.False(t, ok, "expired key must read as absent")

	// The expired read removed the entry, so TYPE sees nothing.
	assert.Equal(t, KindNone, s.Type("foo"))
	assert.Equal(t, 0, s.Len())
}

func TestKeys(t *testing.T) {
	s, mock := newTestStore()

	s.Set("a", []byte("1"), nil)
	s.Set("b", []byte("2"), nil)
	expiry := mock.Now().Add(time.Millisecond)
	s.Set("gone", []byte("3"), &expiry)
	mock.Add(time.Second)

	keys, err := s.Keys("*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, keys)

	_, err = s.Keys("a*")
	assert.ErrorIs(t, err, ErrBadPattern)
}

func TestType(t *testing.T) {
	s, _ := newTestStore()

	s.Set("str", []byte("v"), nil)
	require.NoError(t, s.XAdd("stream", "1-1", []Field{{Name: []byte("f"), Value: []byte("v")}}))

	assert.Equal(t, "string", s.Type("str").String())
	assert.Equal(t, "stream", s.Type("stream").String())
	assert.Equal(t, "none", s.Type("nope").String())
}

func TestXAddAppendsInOrder(t *testing.T) {
	s, _ := newTestStore()

	require.NoError(t, s.XAdd("st", "1-1", []Field{{Name: []byte("a"), Value: []byte("1")}}))
	require.NoError(t, s.XAdd("st", "1-2", []Field{{Name: []byte("b"), Value: []byte("2")}}))
	require.NoError(t, s.XAdd("st", "2-1", []Field{{Name: []byte("c"), Value: []byte("3")}}))

	entries, err := s.XRange("st")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "1-1", entries[0].ID)
	assert.Equal(t, "1-2", entries[1].ID)
	assert.Equal(t, "2-1", entries[2].ID)
}

func TestXAddWrongType(t *testing.T) {
	s, _ := newTestStore()

	s.Set("foo", []byte("bar"), nil)
	err := s.XAdd("foo", "1-1", []Field{{Name: []byte("f"), Value: []byte("v")}})
	assert.ErrorIs(t, err, ErrWrongType)

	// The string must be untouched by the failed append.
	value, ok, err := s.Get("foo")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("bar"), value)
}

func TestXAddRejectsAutoIDs(t *testing.T) {
	s, _ := newTestStore()

	assert.ErrorIs(t, s.XAdd("st", "*", nil), ErrBadEntryID)
	assert.ErrorIs(t, s.XAdd("st", "5-*", nil), ErrBadEntryID)
	assert.Equal(t, KindNone, s.Type("st"))
}

func TestGetWrongType(t *testing.T) {
	s, _ := newTestStore()

	require.NoError(t, s.XAdd("st", "1-1", nil))
	_, _, err := s.Get("st")
	assert.ErrorIs(t, err, ErrWrongType)
}
