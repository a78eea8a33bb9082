package kvstore

import (
	"encoding/binary"
	"testing"
)

func keyAt(prefix byte, checkpoint uint64) []byte {
	k := make([]byte, 9)
	k[0] = prefix
	binary.BigEndian.PutUint64(k[1:], checkpoint)
	return k
}

func TestGetExactNotFound(t *testing.T) {
	s := New(0)
	if _, err := s.GetExact([]byte("missing")); err == nil {
		t.Fatalf("expected NotFound")
	}
}

func TestGetFloorInvalidArgument(t *testing.T) {
	s := New(0)
	if _, _, _, err := s.GetFloor([]byte("abc"), 10); err == nil {
		t.Fatalf("expected InvalidArgument when fuzzyBytes > key length")
	}
}

func TestGetFloorZeroSuffixEqualsExact(t *testing.T) {
	s := New(0)
	key := keyAt(0x01, 0)
	if err := s.Set(key, []byte("v0")); err != nil {
		t.Fatal(err)
	}
	sk, v, found, err := s.GetFloor(key, 8)
	if err != nil || !found {
		t.Fatalf("expected found, got found=%v err=%v", found, err)
	}
	if string(v) != "v0" || string(sk) != string(key) {
		t.Fatalf("floor with all-zero suffix must equal exact lookup")
	}
}

// Writes at checkpoints 1, 5, 10 to the same (tree_id, level, index) prefix;
// a read at any checkpoint in [c_i, c_{i+1}) must return the value written
// at c_i (floor-lookup monotonicity).
func TestFloorLookupMonotonicity(t *testing.T) {
	s := New(0)
	prefix := byte(0x7)
	for _, cp := range []uint64{1, 5, 10} {
		if err := s.Set(keyAt(prefix, cp), []byte{byte(cp)}); err != nil {
			t.Fatal(err)
		}
	}

	cases := []struct {
		probe uint64
		want  byte
		found bool
	}{
		{0, 0, false},
		{1, 1, true},
		{2, 1, true},
		{4, 1, true},
		{5, 5, true},
		{9, 5, true},
		{10, 10, true},
		{100, 10, true},
	}
	for _, c := range cases {
		_, v, found, err := s.GetFloor(keyAt(prefix, c.probe), 8)
		if err != nil {
			t.Fatalf("probe %d: %v", c.probe, err)
		}
		if found != c.found {
			t.Fatalf("probe %d: found=%v want %v", c.probe, found, c.found)
		}
		if found && v[0] != c.want {
			t.Fatalf("probe %d: got %d want %d", c.probe, v[0], c.want)
		}
	}
}

func TestFloorLookupDoesNotCrossPrefix(t *testing.T) {
	s := New(0)
	if err := s.Set(keyAt(0x01, 100), []byte("a")); err != nil {
		t.Fatal(err)
	}
	_, _, found, err := s.GetFloor(keyAt(0x02, 1), 8)
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatalf("floor query must not cross the fixed (non-fuzzy) key prefix")
	}
}

func TestNewCheckpointDoesNotInvalidatePriorFloor(t *testing.T) {
	s := New(0)
	prefix := byte(0x9)
	if err := s.Set(keyAt(prefix, 1), []byte{1}); err != nil {
		t.Fatal(err)
	}
	_, before, _, err := s.GetFloor(keyAt(prefix, 3), 8)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set(keyAt(prefix, 50), []byte{50}); err != nil {
		t.Fatal(err)
	}
	_, after, _, err := s.GetFloor(keyAt(prefix, 3), 8)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Fatalf("writing a later checkpoint must not change an earlier floor read")
	}
}

func TestDeleteRemovesFromIndex(t *testing.T) {
	s := New(4)
	key := keyAt(0x3, 1)
	if err := s.Set(key, []byte("v")); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(key); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetExact(key); err == nil {
		t.Fatalf("expected NotFound after delete")
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty sorted index after delete, got %d", s.Len())
	}
}

func TestSetManyAndGetManyFloor(t *testing.T) {
	s := New(0)
	pairs := []Pair{
		{Key: keyAt(0x4, 1), Value: []byte{1}},
		{Key: keyAt(0x4, 2), Value: []byte{2}},
	}
	if err := s.SetMany(pairs); err != nil {
		t.Fatal(err)
	}
	results, err := s.GetManyFloor([][]byte{keyAt(0x4, 1), keyAt(0x4, 5)}, 8)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Value[0] != 1 || results[1].Value[0] != 2 {
		t.Fatalf("unexpected batched floor results: %+v", results)
	}
}
