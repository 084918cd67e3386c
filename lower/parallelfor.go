// Package lower implements spec.md §4.4-§4.6: the three HLIR-to-runtime-call
// lowering passes. Each pass takes a hlir.Construct the emitter has already
// populated with user code and rewrites it, in place, into the sequence of
// runtime C-ABI calls (package abi) that actually performs the work.
package lower

import (
	"fmt"

	"github.com/coderuntime/parallelrt/hlir"
	"github.com/coderuntime/parallelrt/ir"
)

// ForPriority is the priority parallel-for iterations queue at. Tasks
// always queue at priority 0 (spec.md §4.3); the pool drains higher
// priorities first, so queued loop iterations run ahead of queued tasks.
const ForPriority = 1

// ParallelFor lowers a parallel-for construct: spec.md §4.4 steps 1-7.
//
//  1. discover c.Body's captures
//  2. build the captured-args struct type from their types
//  3. splice a bitcast+GEP+load unpacking prologue in at c.ArgsMarker,
//     rewriting the body's references to each capture to the local copy
//  4. at the caller, in place of c.Marker: allocate the args struct, store
//     each capture into it, create the completion latch, emit a queue loop
//     over [c.Start, c.End) calling queue_func once per iteration, then
//     await the latch
//
// ParallelReduce shares this exact shape (see reduce.go), differing only in
// what it does after the loop completes.
func ParallelFor(c *hlir.Construct) {
	captures := ir.DiscoverCaptures(c.Body)
	capturedType := buildCapturedArgsPrologue(c, captures)
	end, after := emitQueueLoop(c, captures, capturedType, ForPriority)
	ir.NewBuilder(end).Br(after)
}

// buildCapturedArgsPrologue splices the capture-unpacking sequence into
// c.Body at c.ArgsMarker and rewrites the body's uses of each capture to
// the freshly loaded local copy. Returns the captured-args struct type so
// the caller-side lowering can build a matching Alloc/Store sequence.
func buildCapturedArgsPrologue(c *hlir.Construct, captures []*ir.Value) ir.StructType {
	fields := make([]ir.Type, len(captures))
	for i, cap := range captures {
		fields[i] = cap.Typ
	}
	capturedType := ir.StructType{Name: fmt.Sprintf("captures.%d", c.ID), Fields: fields}

	frag := ir.NewFragmentBuilder()
	typedArgs := frag.Bitcast(c.RawArgs, ir.PointerType{Elem: capturedType})
	locals := make([]*ir.Value, len(captures))
	for i, cap := range captures {
		fieldPtr := frag.GEP(typedArgs, capturedType, i)
		locals[i] = frag.Load(fieldPtr, cap.Typ)
	}

	ir.InsertBefore(c.Body.Entry, c.ArgsMarker, frag.Fragment()...)
	for i, cap := range captures {
		ir.ReplaceUsesIn(c.Body, cap, locals[i])
	}
	c.Args = typedArgs
	return capturedType
}

// emitQueueLoop replaces c.Marker in the caller with the allocate /
// populate / create_synch / queue-loop / await_synch sequence, and returns
// the block left holding the await plus the original continuation block —
// the caller finishes by branching end into after (ParallelFor does this
// immediately; ParallelReduce first appends its combine stage to end).
func emitQueueLoop(c *hlir.Construct, captures []*ir.Value, capturedType ir.StructType, priority int) (end, after *ir.Block) {
	caller := c.Marker.Block.Func
	before, after := ir.SplitAt(c.Marker.Block, c.Marker)

	bd := ir.NewBuilder(before)
	argsPtr := bd.Call("alloc", nil, ir.PointerType{Elem: capturedType})
	for i, cap := range captures {
		fieldPtr := bd.GEP(argsPtr, capturedType, i)
		bd.Store(cap, fieldPtr)
	}
	n := bd.Const(c.End-c.Start, ir.I32)
	synch := bd.Call("create_synch", []*ir.Value{n}, ir.Ptr)
	counterPtr := bd.Alloca(ir.I32)
	bd.Store(bd.Const(c.Start, ir.I32), counterPtr)

	cond := caller.NewBlock(before.Name + ".for.cond")
	bd.Br(cond)

	bdCond := ir.NewBuilder(cond)
	counter := bdCond.Load(counterPtr, ir.I32)
	cmp := bdCond.ICmpLess(counter, bdCond.Const(c.End, ir.I32))

	body := caller.NewBlock(before.Name + ".for.body")
	endBlock := caller.NewBlock(before.Name + ".for.end")
	bdCond.CondBr(cmp, body, endBlock)

	bdBody := ir.NewBuilder(body)
	i := bdBody.Load(counterPtr, ir.I32)
	bdBody.Call("queue_func", []*ir.Value{synch, argsPtr, ir.FuncRef(c.Body), i, bdBody.Const(priority, ir.I32)}, ir.Void)
	next := bdBody.IAdd(i, bdBody.Const(1, ir.I32))
	bdBody.Store(next, counterPtr)
	bdBody.Br(cond)

	bdEnd := ir.NewBuilder(endBlock)
	bdEnd.Call("await_synch", []*ir.Value{synch}, ir.Void)
	return endBlock, after
}
