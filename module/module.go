// Package module implements the hierarchical module tree: named submodules each
// holding a function registry and a string table, looked up by "::"-separated path.
// A function is either a compiled bytecode body or a registered native callback.
package module

import (
	"strings"

	"gvm/bytecode"
	"gvm/continuation"
	"gvm/fault"
	"gvm/frame"
	"gvm/heap"
)

// NativeSignalKind restricts a native function's return to the subset of instruction
// results the native bridge is allowed to produce: Continue, Stop, or Unwind.
type NativeSignalKind uint8

const (
	NativeContinue NativeSignalKind = iota
	NativeStop
	NativeUnwind
)

type NativeSignal struct {
	Kind         NativeSignalKind
	UnwindDetail string
}

// NativeFunc is the native call bridge signature: a native function interacts with
// the calling frame's operand stack, the shared heap, and the continuation store, but
// never with the register file directly.
type NativeFunc func(fr *frame.Frame, h *heap.Memory, conts *continuation.Store) (NativeSignal, error)

type FunctionKind uint8

const (
	BytecodeFunction FunctionKind = iota
	NativeFunction
)

type Function struct {
	Name         string
	Kind         FunctionKind
	Instructions []bytecode.Instruction // Kind == BytecodeFunction
	Native       NativeFunc              // Kind == NativeFunction
}

// Module is a named node in the module tree: a function registry, a string table,
// and a set of named submodules.
type Module struct {
	Name       string
	functions  map[string]*Function
	strings    [][]byte
	submodules map[string]*Module
}

func New(name string) *Module {
	return &Module{
		Name:       name,
		functions:  make(map[string]*Function),
		submodules: make(map[string]*Module),
	}
}

// AddFunction registers a bytecode function under name, failing if one is already
// registered there.
func (m *Module) AddFunction(name string, instructions []bytecode.Instruction) error {
	if _, exists := m.functions[name]; exists {
		return fault.New(fault.InvalidOperation, "function already registered: "+name)
	}
	m.functions[name] = &Function{Name: name, Kind: BytecodeFunction, Instructions: instructions}
	return nil
}

// AddNativeFunction registers a host-implemented function under name.
func (m *Module) AddNativeFunction(name string, fn NativeFunc) error {
	if _, exists := m.functions[name]; exists {
		return fault.New(fault.InvalidOperation, "function already registered: "+name)
	}
	m.functions[name] = &Function{Name: name, Kind: NativeFunction, Native: fn}
	return nil
}

// AddSubmodule attaches a child module by its own Name.
func (m *Module) AddSubmodule(child *Module) error {
	if _, exists := m.submodules[child.Name]; exists {
		return fault.New(fault.InvalidOperation, "submodule already registered: "+child.Name)
	}
	m.submodules[child.Name] = child
	return nil
}

// AddStrings appends entries to this module's string table and returns the index of
// the first entry added.
func (m *Module) AddStrings(entries ...[]byte) int {
	start := len(m.strings)
	m.strings = append(m.strings, entries...)
	return start
}

// StringAt returns this module's string table entry idx.
func (m *Module) StringAt(idx int) ([]byte, error) {
	if idx < 0 || idx >= len(m.strings) {
		return nil, fault.New(fault.InvalidString, "string table index out of range")
	}
	return m.strings[idx], nil
}

// Submodule looks up a direct child by name.
func (m *Module) Submodule(name string) (*Module, bool) {
	child, ok := m.submodules[name]
	return child, ok
}

// splitPath divides a "::"-separated path into its submodule segments and final name.
func splitPath(path []string) ([]string, string, error) {
	if len(path) == 0 {
		return nil, "", fault.New(fault.FunctionNotFound, "empty function path")
	}
	return path[:len(path)-1], path[len(path)-1], nil
}

// ParsePath splits a "a::b::c" string into its path segments.
func ParsePath(s string) []string {
	return strings.Split(s, "::")
}

// Resolve walks an absolute path (its own leading segment must equal m.Name, the same
// shape AddStringsToMemory builds its intern keys from) down through submodules,
// returning the module the remaining segments name.
func (m *Module) Resolve(path []string) (*Module, error) {
	if len(path) == 0 || path[0] != m.Name {
		return nil, fault.New(fault.InvalidString, "string path does not originate at this module")
	}
	cur := m
	for _, seg := range path[1:] {
		child, ok := cur.submodules[seg]
		if !ok {
			return nil, fault.New(fault.InvalidString, "no such submodule: "+seg)
		}
		cur = child
	}
	return cur, nil
}

// Lookup resolves a "::"-separated path (e.g. {"math", "fib"}) to a Function,
// descending through submodules for every segment but the last.
func (m *Module) Lookup(path []string) (*Function, error) {
	segments, name, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	cur := m
	for _, seg := range segments {
		child, ok := cur.submodules[seg]
		if !ok {
			return nil, fault.New(fault.FunctionNotFound, "no such submodule: "+seg)
		}
		cur = child
	}
	fn, ok := cur.functions[name]
	if !ok {
		return nil, fault.New(fault.FunctionNotFound, "no such function: "+name)
	}
	return fn, nil
}

// AddStringsToMemory interns every module's string table, recursively, into the
// shared heap via StringTableRef handles keyed by (path, index), ahead of running any
// program against this module tree.
func (m *Module) AddStringsToMemory(h *heap.Memory, path []string) error {
	here := append(append([]string(nil), path...), m.Name)
	for i, s := range m.strings {
		if _, err := h.AllocateStringRef(here, i, s); err != nil {
			return err
		}
	}
	for _, child := range m.submodules {
		if err := child.AddStringsToMemory(h, here); err != nil {
			return err
		}
	}
	return nil
}
