package document

import (
	"bytes"
	"testing"
	"time"
)

func TestNewObjectIDUnique(t *testing.T) {
	seen := make(map[ObjectID]bool)
	for i := 0; i < 1000; i++ {
		id := NewObjectID()
		if id.IsZero() {
			t.Fatal("Expected non-zero ObjectID")
		}
		if seen[id] {
			t.Fatalf("Duplicate ObjectID %s", id.Hex())
		}
		seen[id] = true
	}
}

func TestObjectIDHexRoundTrip(t *testing.T) {
	original := NewObjectID()
	parsed, err := ObjectIDFromHex(original.Hex())
	if err != nil {
		t.Fatalf("Failed to parse hex: %v", err)
	}
	if parsed != original {
		t.Error("Parsed ObjectID doesn't match original")
	}
	if original.String() != original.Hex() {
		t.Error("String() and Hex() should return the same value")
	}

	if _, err := ObjectIDFromHex("abc"); err == nil {
		t.Error("Expected error for short hex string")
	}
	if _, err := ObjectIDFromHex("zzzzzzzzzzzzzzzzzzzzzzzz"); err == nil {
		t.Error("Expected error for invalid hex characters")
	}
}

func TestObjectIDFromTimeOrdering(t *testing.T) {
	early := NewObjectIDFromTime(time.Unix(1000, 0))
	late := NewObjectIDFromTime(time.Unix(2000, 0))

	if early.Compare(late) >= 0 {
		t.Error("Expected earlier ObjectID to sort first")
	}
	if !early.Timestamp().Equal(time.Unix(1000, 0)) {
		t.Errorf("Expected timestamp 1000, got %v", early.Timestamp())
	}
	if early.Compare(early) != 0 {
		t.Error("Expected ObjectID to equal itself")
	}
}

func TestObjectIDLayout(t *testing.T) {
	at := time.Unix(0x5a5a5a5a, 0)
	a := NewObjectIDFromTime(at)
	b := NewObjectIDFromTime(at)

	if !bytes.Equal(a[0:4], []byte{0x5a, 0x5a, 0x5a, 0x5a}) {
		t.Errorf("Expected a big endian timestamp prefix, got %x", a[0:4])
	}
	if !bytes.Equal(a[4:9], b[4:9]) {
		t.Errorf("Expected the same process bytes, got %x and %x", a[4:9], b[4:9])
	}
	counter := func(id ObjectID) uint32 {
		return uint32(id[9])<<16 | uint32(id[10])<<8 | uint32(id[11])
	}
	if (counter(a)+1)&0xFFFFFF != counter(b) {
		t.Errorf("Expected consecutive counters, got %06x and %06x", counter(a), counter(b))
	}
}
