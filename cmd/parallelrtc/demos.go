package main

import (
	"fmt"

	"github.com/coderuntime/parallelrt/abi"
	"github.com/coderuntime/parallelrt/hlir"
	"github.com/coderuntime/parallelrt/ir"
	"github.com/coderuntime/parallelrt/ir/interp"
	"github.com/coderuntime/parallelrt/lower"
)

// runFillDemo lowers and runs "int A[1000]; parallel_for (i, 0, 1000) A[i]
// = i+i;", spec.md §8 scenario E1.
func runFillDemo(workers int) (string, error) {
	m := &ir.Module{Name: "fill"}
	fn := m.NewFunction("main")
	entry := fn.NewBlock("entry")
	bd := ir.NewBuilder(entry)

	arr := bd.AllocaArray(ir.ArrayType{Elem: ir.I32, N: 1000})
	marker := ir.NewMarker()
	entry.Append(marker)
	bd.Ret(arr)

	c := hlir.GetModule(m).CreateParallelFor(fn, marker, 0, 1000)
	frag := ir.NewFragmentBuilder()
	val := frag.IAdd(c.Index, c.Index)
	elemPtr := frag.Index(arr, c.Index, ir.I32)
	frag.Store(val, elemPtr)
	ir.InsertBefore(c.Body.Entry, c.InsertionMarker, frag.Fragment()...)
	lower.ParallelFor(c)

	rt := abi.New(workers)
	defer rt.Close()
	res, err := interp.New(rt).Run(fn, nil)
	if err != nil {
		return "", err
	}
	a := res.(*interp.ArrayMem)
	return fmt.Sprintf("A[0]=%v A[999]=%v (n=%d)", a.Elems[0].Val, a.Elems[999].Val, len(a.Elems)), nil
}

// runEmptyRangeDemo runs the same program over an empty range, spec.md §8
// scenario E3 — the queue loop never executes, the latch is still a valid
// single-party completion, and the caller never blocks.
func runEmptyRangeDemo(workers int) (string, error) {
	m := &ir.Module{Name: "empty"}
	fn := m.NewFunction("main")
	entry := fn.NewBlock("entry")
	bd := ir.NewBuilder(entry)

	arr := bd.AllocaArray(ir.ArrayType{Elem: ir.I32, N: 1})
	marker := ir.NewMarker()
	entry.Append(marker)
	bd.Ret(arr)

	c := hlir.GetModule(m).CreateParallelFor(fn, marker, 0, 0)
	frag := ir.NewFragmentBuilder()
	val := frag.IAdd(c.Index, c.Index)
	elemPtr := frag.Index(arr, c.Index, ir.I32)
	frag.Store(val, elemPtr)
	ir.InsertBefore(c.Body.Entry, c.InsertionMarker, frag.Fragment()...)
	lower.ParallelFor(c)

	rt := abi.New(workers)
	defer rt.Close()
	_, err := interp.New(rt).Run(fn, nil)
	if err != nil {
		return "", err
	}
	return "completed without blocking", nil
}

// runFibDemo lowers fib(15) as a tree of tasks, spec.md §8 scenario E2.
func runFibDemo(workers int) (string, error) {
	fn := buildFib()
	rt := abi.New(workers)
	defer rt.Close()
	res, err := interp.New(rt).Run(fn, []any{15})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("fib(15)=%v", res), nil
}

func buildFib() *ir.Function {
	m := &ir.Module{Name: "fib-demo"}
	fn := m.NewFunction("fib")
	n := fn.Param("n", ir.I32)

	entry := fn.NewBlock("entry")
	bd := ir.NewBuilder(entry)
	lt2 := bd.ICmpLess(n, bd.Const(2, ir.I32))

	baseCase := fn.NewBlock("base")
	recCase := fn.NewBlock("rec")
	bd.CondBr(lt2, baseCase, recCase)
	ir.NewBuilder(baseCase).Ret(n)

	bdRec := ir.NewBuilder(recCase)
	nMinus1 := bdRec.IAdd(n, bdRec.Const(-1, ir.I32))
	nMinus2 := bdRec.IAdd(n, bdRec.Const(-2, ir.I32))

	marker1 := ir.NewMarker()
	recCase.Append(marker1)
	marker2 := ir.NewMarker()
	recCase.Append(marker2)
	awaitMarker1 := ir.NewMarker()
	recCase.Append(awaitMarker1)
	awaitMarker2 := ir.NewMarker()
	recCase.Append(awaitMarker2)
	bdRec.Ret(nil)

	c := hlir.GetModule(m).CreateTask(fn, []ir.Type{ir.I32}, ir.I32)
	pt1 := lower.QueueTask(c, marker1, []*ir.Value{nMinus1})
	pt2 := lower.QueueTask(c, marker2, []*ir.Value{nMinus2})
	r1 := lower.Await(pt1, awaitMarker1)
	r2 := lower.Await(pt2, awaitMarker2)

	retBlock := retPlaceholderBlock(fn)
	retIns := retBlock.Instr[len(retBlock.Instr)-1]
	frag := ir.NewFragmentBuilder()
	sum := frag.IAdd(r1, r2)
	ir.InsertKeepingMarker(retBlock, retIns, frag.Fragment()...)
	retIns.Operands = []*ir.Value{sum}

	return fn
}

func retPlaceholderBlock(fn *ir.Function) *ir.Block {
	for _, b := range fn.Blocks {
		if n := len(b.Instr); n > 0 {
			last := b.Instr[n-1]
			if last.Op == ir.OpRet && len(last.Operands) == 0 {
				return b
			}
		}
	}
	panic("parallelrtc: no placeholder return found")
}

// runReduceDemo sums [0, 1000) via parallel-reduce — the combine stage the
// teacher's runtime never implemented.
func runReduceDemo(workers int) (string, error) {
	m := &ir.Module{Name: "reduce-demo"}
	fn := m.NewFunction("main")
	entry := fn.NewBlock("entry")
	bd := ir.NewBuilder(entry)

	dest := bd.Alloca(ir.I32)
	marker := ir.NewMarker()
	entry.Append(marker)
	result := bd.Load(dest, ir.I32)
	bd.Ret(result)

	combine := func(a, b any) any { return a.(int) + b.(int) }
	c := hlir.GetModule(m).CreateParallelReduce(fn, marker, 0, 1000, ir.I32, combine, 0, dest)

	frag := ir.NewFragmentBuilder()
	elemPtr := frag.Index(c.Partials, c.Index, ir.I32)
	frag.Store(c.Index, elemPtr)
	ir.InsertBefore(c.Body.Entry, c.InsertionMarker, frag.Fragment()...)
	lower.ParallelReduce(c)

	rt := abi.New(workers)
	defer rt.Close()
	host := &lower.CombineHost{Inner: rt, ConstructID: c.ID, Combine: c.Combine}
	res, err := interp.New(host).Run(fn, nil)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("sum[0,1000)=%v", res), nil
}
