package barrel

import "testing"

func testIndexBasics(t *testing.T, idx index) {
	t.Helper()

	if _, ok := idx.get([]byte("missing")); ok {
		t.Fatalf("get on empty index found a value")
	}

	idx.put([]byte("a"), locator{fileID: 1, offset: 10, size: 5})
	idx.put([]byte("b"), locator{fileID: 1, offset: 20, size: 5})
	idx.put([]byte("a"), locator{fileID: 2, offset: 0, size: 5}) // overwrite

	loc, ok := idx.get([]byte("a"))
	if !ok || loc.fileID != 2 {
		t.Fatalf("get(a) = %+v, %v, want fileID 2", loc, ok)
	}

	if n := idx.len(); n != 2 {
		t.Fatalf("len = %d, want 2", n)
	}

	idx.delete([]byte("b"))
	if _, ok := idx.get([]byte("b")); ok {
		t.Fatalf("get(b) found a value after delete")
	}
	if n := idx.len(); n != 1 {
		t.Fatalf("len after delete = %d, want 1", n)
	}
}

func TestHashIndexBasics(t *testing.T) {
	testIndexBasics(t, newHashIndex())
}

func TestTreeIndexBasics(t *testing.T) {
	testIndexBasics(t, newTreeIndex())
}

func TestTreeIndexAscendIsSorted(t *testing.T) {
	idx := newTreeIndex()
	keys := []string{"delta", "alpha", "charlie", "bravo"}
	for i, k := range keys {
		idx.put([]byte(k), locator{fileID: 1, offset: uint64(i)})
	}

	var seen []string
	idx.ascend(func(key []byte, _ locator) bool {
		seen = append(seen, string(key))
		return true
	})

	want := []string{"alpha", "bravo", "charlie", "delta"}
	if len(seen) != len(want) {
		t.Fatalf("ascend visited %d keys, want %d", len(seen), len(want))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("ascend[%d] = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestHashIndexAscendIsSorted(t *testing.T) {
	idx := newHashIndex()
	for _, k := range []string{"zz", "aa", "mm"} {
		idx.put([]byte(k), locator{fileID: 1})
	}

	var seen []string
	idx.ascend(func(key []byte, _ locator) bool {
		seen = append(seen, string(key))
		return true
	})

	want := []string{"aa", "mm", "zz"}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("ascend[%d] = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestIndexAscendStopsEarly(t *testing.T) {
	idx := newHashIndex()
	idx.put([]byte("a"), locator{})
	idx.put([]byte("b"), locator{})
	idx.put([]byte("c"), locator{})

	visited := 0
	idx.ascend(func(key []byte, loc locator) bool {
		visited++
		return false
	})
	if visited != 1 {
		t.Fatalf("visited = %d, want 1", visited)
	}
}
