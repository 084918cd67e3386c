// Package hlir implements the Emitter API (spec.md §6): a registry of
// high-level constructs (parallel-for, parallel-reduce, task) attached to
// an ir.Module, ready for package lower to rewrite into runtime calls.
//
// The source stores body/insertion/reduceVar/reduceType in a string-keyed
// heterogeneous attribute bag and branches on construct kind with dynamic
// dispatch. spec.md §9 flags both as patterns to re-architect; this
// package uses a tagged variant (a Kind tag on one Construct struct) and
// explicit named fields, each populated only for the kinds that use it.
package hlir

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/coderuntime/parallelrt/abi"
	"github.com/coderuntime/parallelrt/ir"
)

// Kind tags which construct a Construct holds.
type Kind int

const (
	KindParallelFor Kind = iota
	KindParallelReduce
	KindTask
)

func (k Kind) String() string {
	switch k {
	case KindParallelFor:
		return "parallel_for"
	case KindParallelReduce:
		return "parallel_reduce"
	case KindTask:
		return "task"
	default:
		return "unknown"
	}
}

// Construct is one HLIR construct: a record referencing its to-be-populated
// body function and the markers the lowering pass and the emitter splice
// real instructions in at (spec.md §3).
type Construct struct {
	ID   int
	Kind Kind

	// Body is the synthesized body function (§3, "Body function").
	// ParallelFor / ParallelReduce only; Task's wrapper is fully built
	// up front (see CreateTask) and has no markers to fill in later.
	Body *ir.Function

	// Marker is the placeholder instruction in the caller's block
	// identifying where the queue/await sequence is spliced in.
	Marker *ir.Instruction

	// ArgsMarker is the point inside Body, before the user's code, where
	// the lowering pass inserts the bitcast+GEP+load capture-unpacking
	// prologue once it knows the captured-args struct's shape.
	ArgsMarker *ir.Instruction

	// InsertionMarker is the point inside Body where the emitter splices
	// the user's own instructions — still referencing the caller's
	// original captured values directly, until the lowering pass rewrites
	// those references via ir.ReplaceUsesIn.
	InsertionMarker *ir.Instruction

	// RawArgs is Body's opaque incoming args pointer (field 2 of the
	// {synch, index, args} triple), the operand the lowering pass bitcasts
	// at ArgsMarker once the captured struct's type is known.
	RawArgs *ir.Value

	// Args is the captured-args struct pointer, populated by the lowering
	// pass once it has built the bitcast at ArgsMarker.
	Args *ir.Value

	// Index is the per-iteration induction variable value exposed to the
	// user body (parallel-for and parallel-reduce).
	Index *ir.Value

	// ParallelFor / ParallelReduce only.
	Start, End int

	// ParallelReduce only.
	ReduceVar  *ir.Value
	ReduceType ir.Type
	Combine    func(a, b any) any // associative combine; see lower.ParallelReduce
	Identity   any                // result when [Start, End) is empty
	Dest       *ir.Value          // where the combined result is stored
	// Partials is the caller-side array each iteration's body writes its
	// contribution into at index (i - Start); it is allocated up front so
	// the emitter can reference it from the user body like any other
	// captured variable — lower.ParallelReduce's capture-unpacking prologue
	// then threads it through exactly like ParallelFor's captures.
	Partials *ir.Value

	// Task only.
	UserFn   *ir.Function // F
	Wrapper  *ir.Function // W, fully built by CreateTask
	ArgTypes []ir.Type
	RetType  ir.Type
}

// Module is the per-ir.Module construct registry: Module::getModule in
// spec.md §6.
type Module struct {
	IR *ir.Module

	mu         sync.Mutex
	constructs []*Construct
}

var (
	registryMu sync.Mutex
	byIRModule = map[*ir.Module]*Module{}
	byName     = map[string]*Module{}
	nextID     int64
)

// GetModule returns the singleton Module wrapping m, creating it on first
// use. Both the ir.Module pointer and its name are kept as lookup keys, as
// spec.md §6 describes.
func GetModule(m *ir.Module) *Module {
	registryMu.Lock()
	defer registryMu.Unlock()
	if hm, ok := byIRModule[m]; ok {
		return hm
	}
	hm := &Module{IR: m}
	byIRModule[m] = hm
	byName[m.Name] = hm
	return hm
}

// GetModuleByName looks up a previously created Module by its ir.Module
// name, returning nil if none has been registered.
func GetModuleByName(name string) *Module {
	registryMu.Lock()
	defer registryMu.Unlock()
	return byName[name]
}

func nextConstructID() int64 {
	return atomic.AddInt64(&nextID, 1)
}

func (m *Module) add(c *Construct) *Construct {
	c.ID = int(nextConstructID())
	m.mu.Lock()
	m.constructs = append(m.constructs, c)
	m.mu.Unlock()
	return c
}

// Constructs returns the module's constructs in creation order.
func (m *Module) Constructs() []*Construct {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Construct, len(m.constructs))
	copy(out, m.constructs)
	return out
}

func bodyName(kind Kind, id int) string {
	return fmt.Sprintf("%s.body.%d", kind, id)
}

// forBody builds the stereotyped parallel-for/parallel-reduce body shape:
// unpack the {synch, index, args} triple, leave ArgsMarker for the lowering
// pass's capture-unpacking prologue and InsertionMarker for the emitter's
// user code, then call finish_func and return. Returns the body function
// plus the index value and the two markers.
func (m *Module) forBody(kind Kind, id int) (body *ir.Function, index, rawArgs *ir.Value, argsMarker, insertionMarker *ir.Instruction) {
	body = m.IR.NewFunction(bodyName(kind, id))
	triple := body.Param("triple", ir.Ptr)
	entry := body.NewBlock("entry")
	bd := ir.NewBuilder(entry)

	typedTriple := bd.Bitcast(triple, ir.PointerType{Elem: abi.ForTripleType})
	indexPtr := bd.GEP(typedTriple, abi.ForTripleType, 1)
	index = bd.Load(indexPtr, ir.I32)
	argsPtr := bd.GEP(typedTriple, abi.ForTripleType, 2)
	rawArgs = bd.Load(argsPtr, ir.Ptr)

	argsMarker = ir.NewMarker()
	entry.Append(argsMarker)
	insertionMarker = ir.NewMarker()
	entry.Append(insertionMarker)

	bd.Call("finish_func", []*ir.Value{typedTriple}, ir.Void)
	bd.Ret(nil)
	return body, index, rawArgs, argsMarker, insertionMarker
}

// CreateParallelFor registers a parallel-for construct over [start, end) in
// the caller function caller, at marker, with a freshly synthesized body
// function. The body's stereotyped shape (unpack triple, insert the user's
// code, call finish_func, return) is built here; the emitter writes user IR
// at InsertionMarker, and the lowering pass (package lower) fills in
// captures at ArgsMarker and the caller-side queue/await sequence at Marker.
func (m *Module) CreateParallelFor(caller *ir.Function, marker *ir.Instruction, start, end int) *Construct {
	c := &Construct{Kind: KindParallelFor, Marker: marker, Start: start, End: end}
	id := int(nextConstructID())
	c.Body, c.Index, c.RawArgs, c.ArgsMarker, c.InsertionMarker = m.forBody(KindParallelFor, id)
	c.ID = id
	m.mu.Lock()
	m.constructs = append(m.constructs, c)
	m.mu.Unlock()
	return c
}

// CreateParallelReduce registers a parallel-reduce construct over
// [start, end) combining partial results of type reduceType with combine.
// identity is the result when the range is empty; dest is where the
// combined result ends up. The per-iteration body (spliced in at
// InsertionMarker, same as ParallelFor) is expected to store its
// contribution into c.Partials[index-start]; lower.ParallelReduce threads
// that array through the capture machinery and runs the combine stage
// after the queue loop completes.
func (m *Module) CreateParallelReduce(caller *ir.Function, marker *ir.Instruction, start, end int, reduceType ir.Type, combine func(a, b any) any, identity any, dest *ir.Value) *Construct {
	c := &Construct{Kind: KindParallelReduce, Marker: marker, Start: start, End: end, ReduceType: reduceType, Combine: combine, Identity: identity, Dest: dest}
	n := end - start
	if n < 1 {
		n = 1
	}
	frag := ir.NewFragmentBuilder()
	c.Partials = frag.AllocaArray(ir.ArrayType{Elem: reduceType, N: n})
	ir.InsertKeepingMarker(marker.Block, marker, frag.Fragment()...)

	id := int(nextConstructID())
	c.Body, c.Index, c.RawArgs, c.ArgsMarker, c.InsertionMarker = m.forBody(KindParallelReduce, id)
	c.ID = id
	m.mu.Lock()
	m.constructs = append(m.constructs, c)
	m.mu.Unlock()
	return c
}

// CreateTask registers a task construct wrapping user function fn of the
// given argument/return types. Unlike the for-constructs, the wrapper's
// shape needs no later capture-unpacking prologue — its argument struct
// layout (abi.TaskArgsType) is fully known from fn's signature up front —
// so CreateTask builds the complete wrapper immediately: unpack args, call
// fn, store the result, release the future, return.
func (m *Module) CreateTask(fn *ir.Function, argTypes []ir.Type, retType ir.Type) *Construct {
	id := int(nextConstructID())
	wrapper := m.IR.NewFunction(bodyName(KindTask, id))
	argsParam := wrapper.Param("args", ir.Ptr)
	entry := wrapper.NewBlock("entry")
	bd := ir.NewBuilder(entry)

	argsType := abi.TaskArgsType(argTypes, retType)
	typedArgs := bd.Bitcast(argsParam, ir.PointerType{Elem: argsType})

	callArgs := make([]*ir.Value, len(argTypes))
	for i, t := range argTypes {
		fieldPtr := bd.GEP(typedArgs, argsType, 2+i)
		callArgs[i] = bd.Load(fieldPtr, t)
	}
	result := bd.Call(fn, callArgs, retType)
	if _, void := retType.(ir.VoidType); !void {
		retFieldPtr := bd.GEP(typedArgs, argsType, 1)
		bd.Store(result, retFieldPtr)
	}
	bd.Call("task_release_future", []*ir.Value{argsParam}, ir.Void)
	bd.Ret(nil)

	c := &Construct{ID: id, Kind: KindTask, UserFn: fn, Wrapper: wrapper, ArgTypes: argTypes, RetType: retType}
	m.mu.Lock()
	m.constructs = append(m.constructs, c)
	m.mu.Unlock()
	return c
}
