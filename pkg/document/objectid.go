package document

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

// ObjectID is a 12-byte identifier laid out as
// [4-byte timestamp][5-byte process unique][3-byte counter]
type ObjectID [12]byte

var (
	objectIDCounter uint32
	processUnique   [5]byte
)

func init() {
	rand.Read(processUnique[:])
	var seed [4]byte
	rand.Read(seed[:])
	objectIDCounter = binary.BigEndian.Uint32(seed[:]) & 0xFFFFFF
}

// NewObjectID generates a new ObjectID for the current time
func NewObjectID() ObjectID {
	return NewObjectIDFromTime(time.Now())
}

// NewObjectIDFromTime generates a new ObjectID carrying the given timestamp
func NewObjectIDFromTime(t time.Time) ObjectID {
	var id ObjectID
	// 4 bytes: timestamp (seconds since epoch)
	binary.BigEndian.PutUint32(id[0:4], uint32(t.Unix()))

	// 5 bytes: random per process
	copy(id[4:9], processUnique[:])

	// 3 bytes: counter (atomic, wraps at 2^24)
	counter := atomic.AddUint32(&objectIDCounter, 1)
	id[9] = byte(counter >> 16)
	id[10] = byte(counter >> 8)
	id[11] = byte(counter)
	return id
}

// ObjectIDFromHex parses a 24 character hex string
func ObjectIDFromHex(s string) (ObjectID, error) {
	var id ObjectID
	if len(s) != 24 {
		return id, fmt.Errorf("invalid ObjectID hex string length: %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid ObjectID hex string: %w", err)
	}
	copy(id[:], b)
	return id, nil
}

// Hex returns the hex string representation of the ObjectID
func (id ObjectID) Hex() string {
	return hex.EncodeToString(id[:])
}

// String returns the hex representation
func (id ObjectID) String() string {
	return id.Hex()
}

// Timestamp returns the creation time encoded in the ObjectID
func (id ObjectID) Timestamp() time.Time {
	return time.Unix(int64(binary.BigEndian.Uint32(id[0:4])), 0).UTC()
}

// Compare orders ObjectIDs bytewise, which is creation order within a process
func (id ObjectID) Compare(other ObjectID) int {
	return bytes.Compare(id[:], other[:])
}

// IsZero returns true if the ObjectID is the zero value
func (id ObjectID) IsZero() bool {
	return id == ObjectID{}
}
