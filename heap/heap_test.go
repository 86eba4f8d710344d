package heap

import (
	"testing"

	"gvm/value"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

func TestAllocateAndGetString(t *testing.T) {
	m := New()
	h, err := m.AllocateString([]byte("hello"))
	assert(t, err == nil, "unexpected error: %v", err)
	data, err := m.GetString(h)
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, string(data) == "hello", "expected hello, got %q", data)
}

func TestStringRefInterningReturnsSameHandle(t *testing.T) {
	m := New()
	path := []string{"main", "strings"}
	first, err := m.AllocateStringRef(path, 0, []byte("hi"))
	assert(t, err == nil, "unexpected error: %v", err)
	second, err := m.AllocateStringRef(path, 0, []byte("hi"))
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, first == second, "expected interning to return the same handle")
}

func TestConcatenateStrings(t *testing.T) {
	m := New()
	a, _ := m.AllocateString([]byte("foo"))
	b, _ := m.AllocateString([]byte("bar"))
	joined, err := m.ConcatenateStrings(a, b)
	assert(t, err == nil, "unexpected error: %v", err)
	data, _ := m.GetString(joined)
	assert(t, string(data) == "foobar", "expected foobar, got %q", data)
}

func TestListRoundTrip(t *testing.T) {
	m := New()
	h, err := m.AllocateList(4, value.U32)
	assert(t, err == nil, "unexpected error: %v", err)
	err = m.StoreList(h, 2, value.NewU32(99))
	assert(t, err == nil, "unexpected error: %v", err)
	v, err := m.AccessList(h, 2)
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, v.U32() == 99, "expected 99, got %d", v.U32())
	n, err := m.GetListLength(h)
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, n == 4, "expected length 4, got %d", n)
}

func TestListIndexOutOfBounds(t *testing.T) {
	m := New()
	h, _ := m.AllocateList(2, value.U32)
	_, err := m.AccessList(h, 5)
	assert(t, err != nil, "expected an out-of-bounds fault")
}

func TestPointerDerefAndNull(t *testing.T) {
	m := New()
	target, _ := m.AllocateString([]byte("x"))
	ptr, err := m.AllocatePointer(target)
	assert(t, err == nil, "unexpected error: %v", err)
	resolved, err := m.Deref(ptr)
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, resolved == target, "expected deref to return the original target handle")

	nullPtr, _ := m.AllocatePointer(0)
	_, err = m.Deref(nullPtr)
	assert(t, err != nil, "expected a null pointer fault")
}

func TestUnknownHandleFaults(t *testing.T) {
	m := New()
	_, err := m.GetString(Handle(0xdeadbeef))
	assert(t, err != nil, "expected an invalid reference fault for an unknown handle")
}

func TestObjectFields(t *testing.T) {
	m := New()
	h, err := m.AllocateObject()
	assert(t, err == nil, "unexpected error: %v", err)
	err = m.SetField(h, "count", value.NewI32(7))
	assert(t, err == nil, "unexpected error: %v", err)
	v, err := m.GetField(h, "count")
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, v.I32() == 7, "expected 7, got %d", v.I32())
}
