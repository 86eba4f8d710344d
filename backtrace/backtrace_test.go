package backtrace

import "testing"

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

func TestPushPop(t *testing.T) {
	b := New()
	b.Push(Site{FuncPath: []string{"main"}})
	b.Push(Site{FuncPath: []string{"math", "fib"}})
	assert(t, len(b.Sites()) == 2, "expected 2 sites, got %d", len(b.Sites()))
	b.Pop()
	assert(t, len(b.Sites()) == 1, "expected 1 site after pop, got %d", len(b.Sites()))
}

func TestPopOnEmptyIsNoop(t *testing.T) {
	b := New()
	b.Pop()
	assert(t, len(b.Sites()) == 0, "expected no panic and no sites")
}

func TestUnwindDefersPopUntilCollapse(t *testing.T) {
	b := New()
	b.Push(Site{FuncPath: []string{"a"}})
	b.Push(Site{FuncPath: []string{"b"}})
	b.Push(Site{FuncPath: []string{"c"}})

	b.BeginUnwind()
	b.BeginUnwind()
	assert(t, b.UnwindLevels() == 2, "expected 2 unwind levels, got %d", b.UnwindLevels())
	assert(t, len(b.Sites()) == 3, "expected sites to remain until collapse, got %d", len(b.Sites()))

	b.CollapseUnwind()
	assert(t, b.UnwindLevels() == 0, "expected unwind levels reset to 0")
	assert(t, len(b.Sites()) == 1, "expected 2 frames collapsed, 1 remaining, got %d", len(b.Sites()))
}

func TestDisplayIsInnermostFirst(t *testing.T) {
	b := New()
	b.Push(Site{FuncPath: []string{"outer"}})
	b.Push(Site{FuncPath: []string{"inner"}})
	display := b.Display()
	innerIdx := indexOf(display, "inner")
	outerIdx := indexOf(display, "outer")
	assert(t, innerIdx >= 0 && outerIdx >= 0 && innerIdx < outerIdx, "expected inner before outer in display:\n%s", display)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
