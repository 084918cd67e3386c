package lower_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/coderuntime/parallelrt/abi"
	"github.com/coderuntime/parallelrt/hlir"
	"github.com/coderuntime/parallelrt/ir"
	"github.com/coderuntime/parallelrt/ir/interp"
	"github.com/coderuntime/parallelrt/lower"
)

// buildFill constructs a function equivalent to:
//
//	int A[n];
//	parallel_for (i, 0, n) { A[i] = i + i; }
//	return A;
func buildFill(n int) (*ir.Module, *ir.Function) {
	m := &ir.Module{Name: "fill"}
	fn := m.NewFunction("main")
	entry := fn.NewBlock("entry")
	bd := ir.NewBuilder(entry)

	arr := bd.AllocaArray(ir.ArrayType{Elem: ir.I32, N: n})
	marker := ir.NewMarker()
	entry.Append(marker)
	bd.Ret(arr)

	hm := hlir.GetModule(m)
	c := hm.CreateParallelFor(fn, marker, 0, n)

	frag := ir.NewFragmentBuilder()
	val := frag.IAdd(c.Index, c.Index)
	elemPtr := frag.Index(arr, c.Index, ir.I32)
	frag.Store(val, elemPtr)
	ir.InsertBefore(c.Body.Entry, c.InsertionMarker, frag.Fragment()...)

	lower.ParallelFor(c)
	return m, fn
}

func TestParallelForFill(t *testing.T) {
	_, fn := buildFill(1000)

	rt := abi.New(4)
	defer rt.Close()
	it := interp.New(rt)

	res, err := it.Run(fn, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	arr, ok := res.(*interp.ArrayMem)
	if !ok {
		t.Fatalf("expected *interp.ArrayMem, got %T", res)
	}
	got := make([]int, len(arr.Elems))
	want := make([]int, len(arr.Elems))
	for i, cell := range arr.Elems {
		got[i] = cell.Val.(int)
		want[i] = i + i
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("A mismatch (-want +got):\n%s", diff)
	}
}

func TestParallelForEmptyRange(t *testing.T) {
	_, fn := buildFill(0)

	rt := abi.New(4)
	defer rt.Close()
	it := interp.New(rt)

	res, err := it.Run(fn, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	arr, ok := res.(*interp.ArrayMem)
	if !ok {
		t.Fatalf("expected *interp.ArrayMem, got %T", res)
	}
	if len(arr.Elems) != 0 {
		t.Fatalf("expected an empty array, got %d elements", len(arr.Elems))
	}
}

// TestParallelForCaptureCorrectness checks that each invocation of the body
// sees its own index and a correctly unpacked copy of a second capture
// (spec.md §8 scenario E4) — not a shared/aliased one.
func TestParallelForCaptureCorrectness(t *testing.T) {
	m := &ir.Module{Name: "capture"}
	fn := m.NewFunction("main")
	entry := fn.NewBlock("entry")
	bd := ir.NewBuilder(entry)

	arr := bd.AllocaArray(ir.ArrayType{Elem: ir.I32, N: 64})
	scale := bd.Const(3, ir.I32)
	marker := ir.NewMarker()
	entry.Append(marker)
	bd.Ret(arr)

	hm := hlir.GetModule(m)
	c := hm.CreateParallelFor(fn, marker, 0, 64)

	frag := ir.NewFragmentBuilder()
	val := frag.IAdd(frag.IAdd(c.Index, c.Index), scale) // 2*i + scale
	elemPtr := frag.Index(arr, c.Index, ir.I32)
	frag.Store(val, elemPtr)
	ir.InsertBefore(c.Body.Entry, c.InsertionMarker, frag.Fragment()...)

	lower.ParallelFor(c)

	rt := abi.New(8)
	defer rt.Close()
	it := interp.New(rt)
	res, err := it.Run(fn, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	arrMem := res.(*interp.ArrayMem)
	for i, cell := range arrMem.Elems {
		want := 2*i + 3
		if cell.Val != want {
			t.Fatalf("A[%d] = %v, want %d", i, cell.Val, want)
		}
	}
}
