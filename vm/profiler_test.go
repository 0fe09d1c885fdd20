package vm

import "testing"

func TestProfilerCountsInvocations(t *testing.T) {
	e, prog, _ := newTestExecutor(t, DefaultConfig())
	sum2 := defineSum2(prog)
	outer := compile(prog, "outer", 0, 1, func(b *BytecodeBuilder) {
		b.EmitUint32(OpAll, 0)
		b.EmitInt32(OpLdiS32, 1)
		for range 3 {
			b.EmitInt32(OpLdiS32, 1)
			b.EmitCall(sum2.Index, 2)
		}
		b.EmitUint8(OpRet, 1)
	})

	p := NewProfiler()
	p.HotThreshold = 3
	var hot []string
	p.OnHot = func(cp *CodeProfile) { hot = append(hot, cp.Code.Name) }
	e.Attach(p)

	rets, err := e.Execute(outer)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := realOf(t, rets[0]); got != 4 {
		t.Errorf("outer() = %v, want 4", got)
	}

	sp := p.Profile(sum2)
	if sp == nil {
		t.Fatal("no profile for sum2")
	}
	if sp.Invocations != 3 || sp.Instructions != 15 {
		t.Errorf("sum2 profile: %d invocations, %d instructions; want 3, 15", sp.Invocations, sp.Instructions)
	}
	if !sp.IsHot {
		t.Error("sum2 not hot at threshold")
	}
	if len(hot) != 1 || hot[0] != "sum2" {
		t.Errorf("OnHot calls = %v", hot)
	}
	if p.OpcodeCount(OpAdd) != 3 {
		t.Errorf("add dispatched %d times", p.OpcodeCount(OpAdd))
	}

	st := p.Stats()
	if st.TotalCode != 2 || st.HotCode != 1 || st.Invocations != 4 {
		t.Errorf("stats = %+v", st)
	}
	if top := p.Hottest(1); len(top) != 1 || top[0].Code != sum2 {
		t.Errorf("hottest = %v", top)
	}

	p.Reset()
	if p.Profile(sum2) != nil || p.OpcodeCount(OpAdd) != 0 {
		t.Error("Reset kept counters")
	}
}
