package frame

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

func TestPushPopRoundTrip(t *testing.T) {
	fr := New([]string{"main"})
	assert(t, fr.Push(value.NewI32(42)) == nil, "unexpected push error")
	v, err := fr.Pop(value.I32)
	assert(t, err == nil, "unexpected pop error: %v", err)
	assert(t, v.I32() == 42, "expected 42, got %d", v.I32())
	assert(t, fr.SP() == 0, "expected sp to return to 0, got %d", fr.SP())
}

func TestPopUnderflowFaults(t *testing.T) {
	fr := New([]string{"main"})
	_, err := fr.Pop(value.I32)
	assert(t, err != nil, "expected an underflow fault")
}

func TestGetSetValueAbsoluteOffset(t *testing.T) {
	fr := New([]string{"main"})
	fr.Grow(8)
	err := fr.SetValue(0, value.NewU32(7))
	assert(t, err == nil, "unexpected set error: %v", err)
	v, err := fr.GetValue(0, value.U32)
	assert(t, err == nil, "unexpected get error: %v", err)
	assert(t, v.U32() == 7, "expected 7, got %d", v.U32())
}

func TestBackupRestoreCalleeSavedRegisters(t *testing.T) {
	fr := New([]string{"main"})
	regs := []value.Value{value.NewI32(1), value.NewI32(2), value.NewI32(3), value.NewI32(9), value.NewI32(10), value.NewI32(11)}
	fr.Backup(regs, 3)

	regs[3], regs[4], regs[5] = value.NewI32(100), value.NewI32(200), value.NewI32(300)
	fr.Restore(regs, 3)
	assert(t, regs[3].I32() == 9 && regs[4].I32() == 10 && regs[5].I32() == 11, "expected restore to undo the clobber, got %v", regs)
}

func TestMakeContinuationSharesFrame(t *testing.T) {
	fr := New([]string{"main"})
	fr.PC = 5
	shared, startPC := fr.MakeContinuation()
	assert(t, shared == fr, "expected MakeContinuation to share the same frame pointer")
	assert(t, startPC == 5, "expected captured PC to be 5, got %d", startPC)
}

func TestUnalignedStackPointerIsAllowed(t *testing.T) {
	fr := New([]string{"main"})
	assert(t, fr.Push(value.NewU8(1)) == nil, "unexpected push error")
	assert(t, fr.Push(value.NewU32(2)) == nil, "unexpected push error")
	assert(t, fr.SP() == 5, "expected sp at 5 (1 + 4 bytes, no padding), got %d", fr.SP())
}
