package rdb

import "encoding/hex"

// RDB file format constants.
const (
	// Magic is the header every snapshot starts with: the ASCII magic
	// string followed by the four-digit format version.
	Magic = "REDIS0011"

	// OpCodeAux introduces a metadata auxiliary field.
	OpCodeAux = 0xFA
	// OpCodeEOF terminates the snapshot; a CRC-64 trailer follows it.
	OpCodeEOF = 0xFF
)

// emptySnapshotHex is the fixed 88-byte empty snapshot served to replicas
// during PSYNC full resynchronization: magic, auxiliary metadata fields
// (redis-ver, redis-bits, ctime, used-mem, aof-base), the EOF opcode and
// the CRC-64 trailer. Pre-computed because the checksum uses the Redis
// CRC-64 variant rather than the ECMA polynomial in hash/crc64.
const emptySnapshotHex = "524544495330303131" + // REDIS0011
	"fa0972656469732d76657205372e322e30" + // redis-ver 7.2.0
	"fa0a72656469732d62697473c040" + // redis-bits 64
	"fa056374696d65c26d08bc65" + // ctime
	"fa08757365642d6d656dc2b0c41000" + // used-mem
	"fa08616f662d62617365c000" + // aof-base 0
	"ff" + // EOF
	"f06e3bfec0ff5aa2" // CRC-64

var emptySnapshot []byte

func init() {
	var err error
	emptySnapshot, err = hex.DecodeString(emptySnapshotHex)
	if err != nil {
		panic(err)
	}
}

// EmptySnapshot returns the empty snapshot payload. The slice is shared
// across callers and must not be mutated.
func EmptySnapshot() []byte {
	return emptySnapshot
}
