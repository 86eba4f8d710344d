// Package heap implements the engine's shared handle table: the single mutable
// resource an embedder can hand to more than one engine at a time.
package heap

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"sync/atomic"

	"gvm/fault"
	"gvm/value"
)

// Handle is an opaque 64-bit reference into the heap's object table.
type Handle uint64

// Kind tags what a handle currently resolves to.
type Kind uint8

const (
	Null Kind = iota
	StringTableRef
	String
	ObjectKind
	List
	Pointer
)

// Object is the tagged payload a Handle resolves to.
type Object struct {
	Kind Kind

	// Str holds raw bytes for Kind == String or Kind == StringTableRef (the latter
	// additionally carries ModulePath/Index so callers can trace back to the interned
	// module string table entry it mirrors).
	Str        []byte
	ModulePath []string
	Index      int

	Fields map[string]value.Value // Kind == ObjectKind
	List   []value.Value          // Kind == List
	Target Handle                 // Kind == Pointer
}

// Memory is the concurrency-safe handle table. Zero value is not usable; use New.
type Memory struct {
	mu      sync.RWMutex
	objects map[Handle]*Object
	intern  map[string]Handle // internKey(path, idx) -> handle, for string-table interning
	poisoned atomic.Bool
}

func New() *Memory {
	return &Memory{
		objects: make(map[Handle]*Object),
		intern:  make(map[string]Handle),
	}
}

func internKey(path []string, idx int) string {
	key := make([]byte, 0, 32)
	for _, p := range path {
		key = append(key, p...)
		key = append(key, ':')
	}
	var idxBuf [8]byte
	binary.LittleEndian.PutUint64(idxBuf[:], uint64(idx))
	return string(append(key, idxBuf[:]...))
}

func randomHandle() Handle {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing is fatal to the process; the heap cannot safely
		// allocate unique handles without it.
		panic("heap: crypto/rand unavailable: " + err.Error())
	}
	h := binary.LittleEndian.Uint64(buf[:])
	if h == 0 {
		h = 1
	}
	return Handle(h)
}

// withLock runs fn under the write lock, converting a poisoned table or a recovered
// panic into a MemoryError fault.
func (m *Memory) withLock(fn func() (any, error)) (result any, err error) {
	if m.poisoned.Load() {
		return nil, fault.New(fault.MemoryError, "poisoned")
	}
	m.mu.Lock()
	defer func() {
		if r := recover(); r != nil {
			m.poisoned.Store(true)
			m.mu.Unlock()
			err = fault.New(fault.MemoryError, "poisoned")
			return
		}
		m.mu.Unlock()
	}()
	result, err = fn()
	return result, err
}

func (m *Memory) withRLock(fn func() (any, error)) (result any, err error) {
	if m.poisoned.Load() {
		return nil, fault.New(fault.MemoryError, "poisoned")
	}
	m.mu.RLock()
	defer func() {
		if r := recover(); r != nil {
			m.poisoned.Store(true)
			err = fault.New(fault.MemoryError, "poisoned")
		}
		m.mu.RUnlock()
	}()
	result, err = fn()
	return result, err
}

func (m *Memory) allocate(obj *Object) Handle {
	for {
		h := randomHandle()
		if _, exists := m.objects[h]; exists {
			continue
		}
		m.objects[h] = obj
		return h
	}
}

// AllocateString copies data into a fresh, uninterned heap string and returns its
// handle.
func (m *Memory) AllocateString(data []byte) (Handle, error) {
	res, err := m.withLock(func() (any, error) {
		cp := make([]byte, len(data))
		copy(cp, data)
		h := m.allocate(&Object{Kind: String, Str: cp})
		return h, nil
	})
	if err != nil {
		return 0, err
	}
	return res.(Handle), nil
}

// AllocateStringRef interns the (path, idx) module string table entry, returning the
// same handle on repeated calls for the same entry.
func (m *Memory) AllocateStringRef(path []string, idx int, data []byte) (Handle, error) {
	key := internKey(path, idx)
	res, err := m.withLock(func() (any, error) {
		if h, ok := m.intern[key]; ok {
			return h, nil
		}
		cp := make([]byte, len(data))
		copy(cp, data)
		h := m.allocate(&Object{Kind: StringTableRef, Str: cp, ModulePath: path, Index: idx})
		m.intern[key] = h
		return h, nil
	})
	if err != nil {
		return 0, err
	}
	return res.(Handle), nil
}

// GetString returns the bytes behind a String or StringTableRef handle.
func (m *Memory) GetString(h Handle) ([]byte, error) {
	res, err := m.withRLock(func() (any, error) {
		obj, ok := m.objects[h]
		if !ok {
			return nil, fault.New(fault.InvalidReference, "unknown handle")
		}
		if obj.Kind != String && obj.Kind != StringTableRef {
			return nil, fault.New(fault.InvalidString, "handle does not refer to a string")
		}
		return obj.Str, nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]byte), nil
}

// ConcatenateStrings allocates a new String handle holding the concatenation of two
// existing string handles' contents.
func (m *Memory) ConcatenateStrings(a, b Handle) (Handle, error) {
	left, err := m.GetString(a)
	if err != nil {
		return 0, err
	}
	right, err := m.GetString(b)
	if err != nil {
		return 0, err
	}
	joined := make([]byte, 0, len(left)+len(right))
	joined = append(joined, left...)
	joined = append(joined, right...)
	return m.AllocateString(joined)
}

// AllocateList allocates a fresh List handle of the given length, zero-filled with
// elemKind zero values.
func (m *Memory) AllocateList(length int, elemKind value.Kind) (Handle, error) {
	res, err := m.withLock(func() (any, error) {
		list := make([]value.Value, length)
		for i := range list {
			list[i] = value.Zero(elemKind)
		}
		h := m.allocate(&Object{Kind: List, List: list})
		return h, nil
	})
	if err != nil {
		return 0, err
	}
	return res.(Handle), nil
}

// AccessList reads element idx of a List handle.
func (m *Memory) AccessList(h Handle, idx int) (value.Value, error) {
	res, err := m.withRLock(func() (any, error) {
		obj, ok := m.objects[h]
		if !ok {
			return nil, fault.New(fault.InvalidReference, "unknown handle")
		}
		if obj.Kind != List {
			return nil, fault.New(fault.InvalidOperation, "handle does not refer to a list")
		}
		if idx < 0 || idx >= len(obj.List) {
			return nil, fault.New(fault.IndexOutOfBounds, "list index out of range")
		}
		return obj.List[idx], nil
	})
	if err != nil {
		return value.Value{}, err
	}
	return res.(value.Value), nil
}

// StoreList writes v into element idx of a List handle.
func (m *Memory) StoreList(h Handle, idx int, v value.Value) error {
	_, err := m.withLock(func() (any, error) {
		obj, ok := m.objects[h]
		if !ok {
			return nil, fault.New(fault.InvalidReference, "unknown handle")
		}
		if obj.Kind != List {
			return nil, fault.New(fault.InvalidOperation, "handle does not refer to a list")
		}
		if idx < 0 || idx >= len(obj.List) {
			return nil, fault.New(fault.IndexOutOfBounds, "list index out of range")
		}
		obj.List[idx] = v
		return nil, nil
	})
	return err
}

// GetListLength returns the element count of a List handle.
func (m *Memory) GetListLength(h Handle) (int, error) {
	res, err := m.withRLock(func() (any, error) {
		obj, ok := m.objects[h]
		if !ok {
			return nil, fault.New(fault.InvalidReference, "unknown handle")
		}
		if obj.Kind != List {
			return nil, fault.New(fault.InvalidOperation, "handle does not refer to a list")
		}
		return len(obj.List), nil
	})
	if err != nil {
		return 0, err
	}
	return res.(int), nil
}

// AllocatePointer allocates a Pointer handle aliasing an existing handle. Dereferencing
// a dangling target (one that was never removed since this heap performs no tracing
// collection) is the caller's responsibility to avoid; Deref reports NullPointerReference
// only for the zero handle.
func (m *Memory) AllocatePointer(target Handle) (Handle, error) {
	res, err := m.withLock(func() (any, error) {
		h := m.allocate(&Object{Kind: Pointer, Target: target})
		return h, nil
	})
	if err != nil {
		return 0, err
	}
	return res.(Handle), nil
}

// Deref follows a Pointer handle to the handle it targets.
func (m *Memory) Deref(h Handle) (Handle, error) {
	res, err := m.withRLock(func() (any, error) {
		obj, ok := m.objects[h]
		if !ok {
			return nil, fault.New(fault.InvalidReference, "unknown handle")
		}
		if obj.Kind != Pointer {
			return nil, fault.New(fault.InvalidOperation, "handle does not refer to a pointer")
		}
		if obj.Target == 0 {
			return nil, fault.New(fault.NullPointerReference, "")
		}
		return obj.Target, nil
	})
	if err != nil {
		return 0, err
	}
	return res.(Handle), nil
}

// AllocateObject allocates a fresh Object handle with an empty field set.
func (m *Memory) AllocateObject() (Handle, error) {
	res, err := m.withLock(func() (any, error) {
		h := m.allocate(&Object{Kind: ObjectKind, Fields: make(map[string]value.Value)})
		return h, nil
	})
	if err != nil {
		return 0, err
	}
	return res.(Handle), nil
}

// GetField reads a named field of an Object handle.
func (m *Memory) GetField(h Handle, name string) (value.Value, error) {
	res, err := m.withRLock(func() (any, error) {
		obj, ok := m.objects[h]
		if !ok {
			return nil, fault.New(fault.InvalidReference, "unknown handle")
		}
		if obj.Kind != ObjectKind {
			return nil, fault.New(fault.InvalidOperation, "handle does not refer to an object")
		}
		v, ok := obj.Fields[name]
		if !ok {
			return nil, fault.New(fault.InvalidReference, "no such field: "+name)
		}
		return v, nil
	})
	if err != nil {
		return value.Value{}, err
	}
	return res.(value.Value), nil
}

// SetField writes a named field of an Object handle.
func (m *Memory) SetField(h Handle, name string, v value.Value) error {
	_, err := m.withLock(func() (any, error) {
		obj, ok := m.objects[h]
		if !ok {
			return nil, fault.New(fault.InvalidReference, "unknown handle")
		}
		if obj.Kind != ObjectKind {
			return nil, fault.New(fault.InvalidOperation, "handle does not refer to an object")
		}
		obj.Fields[name] = v
		return nil, nil
	})
	return err
}

// Free removes a handle from the table. Freeing a List whose elements are themselves
// handles does not recursively free them: cyclic object graphs are not representable
// safely under reference counting, so callers that need cycle-safe reclamation should
// treat this heap as requiring an external tracing pass, not automatic recursive free.
func (m *Memory) Free(h Handle) error {
	_, err := m.withLock(func() (any, error) {
		delete(m.objects, h)
		return nil, nil
	})
	return err
}

// KindOf reports what kind of object a handle currently resolves to.
func (m *Memory) KindOf(h Handle) (Kind, error) {
	res, err := m.withRLock(func() (any, error) {
		obj, ok := m.objects[h]
		if !ok {
			return Null, fault.New(fault.InvalidReference, "unknown handle")
		}
		return obj.Kind, nil
	})
	if err != nil {
		return Null, err
	}
	return res.(Kind), nil
}
