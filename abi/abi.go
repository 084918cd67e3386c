// Package abi implements the runtime C-ABI facade (spec.md §4.3): the
// eight symbols lowered IR calls into. Their names and conceptual
// signatures are the binary-compatibility contract; Runtime realizes them
// as a process-wide context instead of the source's bare globals (spec.md
// §9's "Global singletons" note), with the opaque pointer handles crossing
// the boundary wrapped in a tagged, validated table instead of raw
// untyped pointers.
package abi

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/coderuntime/parallelrt/ir"
	"github.com/coderuntime/parallelrt/ir/interp"
	"github.com/coderuntime/parallelrt/pool"
	"github.com/coderuntime/parallelrt/vsem"
)

// ErrOOM is returned by Alloc when the runtime is out of memory. The
// source propagates a null pointer that lowered IR never checks (a latent
// crash class); spec.md §7 asks a reimplementation to surface this as a
// proper error kind instead.
var ErrOOM = errors.New("abi: allocation failed")

// Handle is an opaque reference to a runtime-owned object (a VSem used as
// either a completion latch or a task future). It is the ABI's "pointer"
// for create_synch/await_synch/finish_func/task_* — spec.md §9 calls for
// wrapping such handles in a tagged structure validated on entry instead
// of trusting an untyped pointer; handleKind below is that tag.
type Handle int64

type handleKind string

const (
	kindSynch handleKind = "synch"
	kindFuture handleKind = "future"
)

type handleEntry struct {
	kind handleKind
	sem  *vsem.VSem
}

// Runtime is the process-wide runtime context spec.md §9 asks for in place
// of bare global state: it owns the thread pool and the handle table the
// eight facade symbols operate on.
type Runtime struct {
	Pool *pool.Pool

	mu         sync.Mutex
	handles    map[Handle]*handleEntry
	nextHandle int64

	maxAllocs  int64 // 0 means unbounded
	allocCount int64
}

// Option configures a Runtime at construction time.
type Option func(*Runtime)

// WithMaxAllocs caps the total number of allocations Alloc will satisfy
// over the Runtime's lifetime (nothing is ever counted back down) before
// returning ErrOOM — a deterministic way to exercise the OOM path
// in tests without exhausting real memory.
func WithMaxAllocs(n int64) Option {
	return func(rt *Runtime) { rt.maxAllocs = n }
}

// New creates a Runtime with workers pool workers (0 defaults to
// runtime.NumCPU, see package pool).
func New(workers int, opts ...Option) *Runtime {
	rt := &Runtime{
		handles: make(map[Handle]*handleEntry),
	}
	for _, opt := range opts {
		opt(rt)
	}
	rt.Pool = pool.New(workers, pool.WithPanicHook(func(r any) {
		// A body function panicking is the thread-pool-worker-exception
		// failure mode of spec.md §7; package pool already recovers and
		// continues draining, this hook is where a host would log it.
		_ = r
	}))
	return rt
}

// Close stops the pool once its queue has drained.
func (rt *Runtime) Close() { rt.Pool.Close() }

func (rt *Runtime) newHandle(kind handleKind, sem *vsem.VSem) Handle {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.nextHandle++
	h := Handle(rt.nextHandle)
	rt.handles[h] = &handleEntry{kind: kind, sem: sem}
	return h
}

func (rt *Runtime) lookup(h Handle, want handleKind) *vsem.VSem {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	e, ok := rt.handles[h]
	if !ok {
		panic(fmt.Sprintf("abi: handle %d is unknown or already freed", h))
	}
	if e.kind != want {
		panic(fmt.Sprintf("abi: handle %d is a %s, expected %s", h, e.kind, want))
	}
	return e.sem
}

func (rt *Runtime) free(h Handle) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.handles, h)
}

// CreateSynch allocates a VSem with initial count -(n-1) — an n-party
// completion latch — and returns its handle.
func (rt *Runtime) CreateSynch(n int32) Handle {
	return rt.newHandle(kindSynch, vsem.New(-(int(n) - 1)))
}

// ForTripleType is the parallel-for body's argument struct layout from
// spec.md §3: { void* synch_ptr, i32 index, void* captured_args_ptr }.
var ForTripleType = ir.StructType{
	Name:   "for_triple",
	Fields: []ir.Type{ir.Ptr, ir.I32, ir.Ptr},
}

// QueueFunc builds the per-iteration {synch, index, args} triple and
// pushes (fn, triple, priority) onto the pool. fn is the body's
// *ir.Function; it runs under the interpreter when the worker dequeues it.
func (rt *Runtime) QueueFunc(synch Handle, args any, fn *ir.Function, index int32, priority int) {
	triple := interp.NewStructMem(ForTripleType)
	triple.Fields[0].Val = synch
	triple.Fields[1].Val = int(index)
	triple.Fields[2].Val = args

	rt.Pool.Push(func(arg any) {
		it := interp.New(rt)
		if _, err := it.Run(fn, []any{arg}); err != nil {
			panic(err)
		}
	}, triple, priority)
}

// FinishFunc releases the synch a triple references and "frees" the
// triple. Go's GC reclaims the triple's memory once nothing references
// it; the only explicit resource here is the handle-table entry, which
// outlives this call (the awaiter frees it after Acquire returns, per
// spec.md §3's "Completion latch" ownership note).
func (rt *Runtime) FinishFunc(triple *interp.StructMem) {
	synch := triple.Fields[0].Val.(Handle)
	sem := rt.lookup(synch, kindSynch)
	sem.Release()
}

// AwaitSynch acquires synch once and frees its handle — owned by the
// awaiter, per spec.md §3.
func (rt *Runtime) AwaitSynch(synch Handle) {
	sem := rt.lookup(synch, kindSynch)
	sem.Acquire()
	rt.free(synch)
}

// Alloc is a plain heap allocation sized to fit st, surfaced as a proper
// error on failure instead of a null pointer (spec.md §7).
func (rt *Runtime) Alloc(st ir.StructType) (*interp.StructMem, error) {
	if rt.maxAllocs > 0 {
		if atomic.AddInt64(&rt.allocCount, 1) > rt.maxAllocs {
			atomic.AddInt64(&rt.allocCount, -1)
			return nil, ErrOOM
		}
	}
	return interp.NewStructMem(st), nil
}

// TaskArgsType is the task argument-struct layout. spec.md §3 defines it
// as { void* future, i32 depth, ReturnT ret, Arg0, Arg1, … }; this
// reimplementation drops the depth field entirely (spec.md §9 open
// question 1: it's loaded but never stored in the source, an unwired
// recursion-depth counter — removing it is the spec's own suggested
// resolution): future stays field 0, ret moves to field 1, and the user
// arguments start at field 2.
func TaskArgsType(argTypes []ir.Type, retType ir.Type) ir.StructType {
	fields := make([]ir.Type, 0, 2+len(argTypes))
	fields = append(fields, ir.Ptr, retType)
	fields = append(fields, argTypes...)
	return ir.StructType{Name: "task_args", Fields: fields}
}

// TaskQueue allocates a fresh future (count 0), stores its handle into
// args' field 0, and pushes (wrapper, args, 0) onto the pool — tasks
// always queue at priority 0 (spec.md §4.3's priority table).
func (rt *Runtime) TaskQueue(wrapper *ir.Function, args *interp.StructMem) {
	future := rt.newHandle(kindFuture, vsem.New(0))
	args.Fields[0].Val = future

	rt.Pool.Push(func(arg any) {
		it := interp.New(rt)
		if _, err := it.Run(wrapper, []any{arg}); err != nil {
			panic(err)
		}
	}, args, 0)
}

// TaskAwaitFuture blocks until the task's wrapper releases the future,
// then frees the future's handle-table entry. The arg-struct itself (and
// the return value task_await_future's caller is about to read out of it)
// stays alive under Go's GC for as long as the lowered IR still holds a
// reference — no separate free is needed for it the way spec.md §9 open
// question 2 calls for in an unmanaged host language.
func (rt *Runtime) TaskAwaitFuture(args *interp.StructMem) {
	future := args.Fields[0].Val.(Handle)
	sem := rt.lookup(future, kindFuture)
	sem.Acquire()
	rt.free(future)
}

// TaskReleaseFuture releases the future referenced by args' field 0;
// called from the task wrapper's epilogue on completion.
func (rt *Runtime) TaskReleaseFuture(args *interp.StructMem) {
	future := args.Fields[0].Val.(Handle)
	sem := rt.lookup(future, kindFuture)
	sem.Release()
}

// Call implements interp.Host, dispatching the eight facade symbols by
// name for IR built by package lower. Anything else is a lowering bug —
// a programmer-contract violation per spec.md §7 — and panics.
func (rt *Runtime) Call(name string, args []any, resultType ir.Type) (any, error) {
	switch name {
	case "create_synch":
		return rt.CreateSynch(int32(args[0].(int))), nil
	case "queue_func":
		rt.QueueFunc(args[0].(Handle), args[1], args[2].(*ir.Function), int32(args[3].(int)), args[4].(int))
		return nil, nil
	case "finish_func":
		rt.FinishFunc(args[0].(*interp.StructMem))
		return nil, nil
	case "await_synch":
		rt.AwaitSynch(args[0].(Handle))
		return nil, nil
	case "alloc":
		st, ok := elemStruct(resultType)
		if !ok {
			panic("abi: alloc call site has no struct-pointer result type")
		}
		return rt.Alloc(st)
	case "task_queue":
		rt.TaskQueue(args[0].(*ir.Function), args[1].(*interp.StructMem))
		return nil, nil
	case "task_await_future":
		rt.TaskAwaitFuture(args[0].(*interp.StructMem))
		return nil, nil
	case "task_release_future":
		rt.TaskReleaseFuture(args[0].(*interp.StructMem))
		return nil, nil
	default:
		panic(fmt.Sprintf("abi: unknown facade symbol %q", name))
	}
}

func elemStruct(t ir.Type) (ir.StructType, bool) {
	p, ok := t.(ir.PointerType)
	if !ok {
		return ir.StructType{}, false
	}
	st, ok := p.Elem.(ir.StructType)
	return st, ok
}
