package rdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptySnapshotShape(t *testing.T) {
	snapshot := EmptySnapshot()

	require.Len(t, snapshot, 88)
	assert.Equal(t, Magic, string(snapshot[:len(Magic)]))

	// EOF opcode sits right before the 8-byte CRC-64 trailer.
	assert.Equal(t, byte(OpCodeEOF), snapshot[len(snapshot)-9])

	// First auxiliary field follows the header.
	assert.Equal(t, byte(OpCodeAux), snapshot[len(Magic)])
}

func TestEmptySnapshotStable(t *testing.T) {
	a := EmptySnapshot()
	b := EmptySnapshot()
	assert.Equal(t, a, b)
}
