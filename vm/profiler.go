package vm

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Profiler is a Debugger that counts invocations and executed instructions
// per bytecode and flags code as hot once it crosses a threshold. Counters
// are atomic so a front end may read Stats while scripts run.

// CodeProfile holds profiling data for a single bytecode.
type CodeProfile struct {
	Code         *Bytecode
	Invocations  uint64 // Atomic counter for entries at offset 0
	Instructions uint64 // Atomic counter for executed instructions
	IsHot        bool   // True if threshold exceeded
}

// Profiler manages profiling for every bytecode an executor runs.
type Profiler struct {
	profiles sync.Map // *Bytecode -> *CodeProfile
	opcodes  [256]uint64

	// HotThreshold is the invocation count that marks code hot.
	HotThreshold uint64 // Default: 100

	// OnHot is called once per bytecode when it becomes hot.
	OnHot func(p *CodeProfile)

	next Debugger
}

// NewProfiler creates a new profiler with the default threshold.
func NewProfiler() *Profiler {
	return &Profiler{HotThreshold: 100}
}

// Chain makes d run after every profiled instruction.
func (p *Profiler) Chain(d Debugger) *Profiler {
	p.next = d
	return p
}

// BeforeInstruction implements Debugger.
func (p *Profiler) BeforeInstruction(e *Executor, pc ProgramCounter, op Opcode) {
	atomic.AddUint64(&p.opcodes[op], 1)
	if pc.Code != nil {
		val, _ := p.profiles.LoadOrStore(pc.Code, &CodeProfile{Code: pc.Code})
		profile := val.(*CodeProfile)
		atomic.AddUint64(&profile.Instructions, 1)
		if pc.Offset == 0 {
			p.recordInvocation(profile)
		}
	}
	if p.next != nil {
		p.next.BeforeInstruction(e, pc, op)
	}
}

func (p *Profiler) recordInvocation(profile *CodeProfile) {
	count := atomic.AddUint64(&profile.Invocations, 1)

	// Check if just became hot
	if !profile.IsHot && count >= p.HotThreshold {
		profile.IsHot = true
		if p.OnHot != nil {
			p.OnHot(profile)
		}
	}
}

// Profile returns the profile for b, or nil if it never ran.
func (p *Profiler) Profile(b *Bytecode) *CodeProfile {
	if val, ok := p.profiles.Load(b); ok {
		return val.(*CodeProfile)
	}
	return nil
}

// OpcodeCount returns how often op was dispatched.
func (p *Profiler) OpcodeCount(op Opcode) uint64 {
	return atomic.LoadUint64(&p.opcodes[op])
}

// ProfilerStats holds aggregate profiling statistics.
type ProfilerStats struct {
	TotalCode    int    // Number of bytecodes profiled
	HotCode      int    // Number of hot bytecodes
	Invocations  uint64 // Total entries
	Instructions uint64 // Total executed instructions
}

// Stats returns aggregate profiling statistics.
func (p *Profiler) Stats() ProfilerStats {
	var stats ProfilerStats
	p.profiles.Range(func(key, value any) bool {
		profile := value.(*CodeProfile)
		stats.TotalCode++
		stats.Invocations += atomic.LoadUint64(&profile.Invocations)
		stats.Instructions += atomic.LoadUint64(&profile.Instructions)
		if profile.IsHot {
			stats.HotCode++
		}
		return true
	})
	return stats
}

// Hottest returns up to n profiles ordered by executed instructions.
func (p *Profiler) Hottest(n int) []*CodeProfile {
	var all []*CodeProfile
	p.profiles.Range(func(key, value any) bool {
		all = append(all, value.(*CodeProfile))
		return true
	})
	slices.SortFunc(all, func(a, b *CodeProfile) int {
		ai, bi := atomic.LoadUint64(&a.Instructions), atomic.LoadUint64(&b.Instructions)
		switch {
		case ai > bi:
			return -1
		case ai < bi:
			return 1
		}
		return int(a.Code.Index) - int(b.Code.Index)
	})
	return all[:min(n, len(all))]
}

// Reset clears every counter.
func (p *Profiler) Reset() {
	p.profiles.Range(func(key, value any) bool {
		p.profiles.Delete(key)
		return true
	})
	for i := range p.opcodes {
		atomic.StoreUint64(&p.opcodes[i], 0)
	}
}
