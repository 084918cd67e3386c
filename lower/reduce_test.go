package lower_test

import (
	"testing"

	"github.com/coderuntime/parallelrt/abi"
	"github.com/coderuntime/parallelrt/hlir"
	"github.com/coderuntime/parallelrt/ir"
	"github.com/coderuntime/parallelrt/ir/interp"
	"github.com/coderuntime/parallelrt/lower"
)

// buildSumReduce constructs:
//
//	int sum;
//	parallel_reduce (i, start, end, sum, +) { partial = i; }
//	return sum;
func buildSumReduce(start, end int) (*ir.Function, *hlir.Construct) {
	m := &ir.Module{Name: "reduce"}
	fn := m.NewFunction("main")
	entry := fn.NewBlock("entry")
	bd := ir.NewBuilder(entry)

	dest := bd.Alloca(ir.I32)
	marker := ir.NewMarker()
	entry.Append(marker)
	result := bd.Load(dest, ir.I32)
	bd.Ret(result)

	combine := func(a, b any) any { return a.(int) + b.(int) }

	hm := hlir.GetModule(m)
	c := hm.CreateParallelReduce(fn, marker, start, end, ir.I32, combine, 0, dest)

	frag := ir.NewFragmentBuilder()
	idx := c.Index
	slot := frag.IAdd(idx, frag.Const(-start, ir.I32)) // Partials[i - start]
	elemPtr := frag.Index(c.Partials, slot, ir.I32)
	frag.Store(idx, elemPtr)
	ir.InsertBefore(c.Body.Entry, c.InsertionMarker, frag.Fragment()...)

	lower.ParallelReduce(c)
	return fn, c
}

func TestParallelReduceSum(t *testing.T) {
	fn, c := buildSumReduce(0, 1000)

	rt := abi.New(4)
	defer rt.Close()
	host := &lower.CombineHost{Inner: rt, ConstructID: c.ID, Combine: c.Combine}
	it := interp.New(host)

	res, err := it.Run(fn, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.(int) != 499500 {
		t.Fatalf("sum = %v, want 499500", res)
	}
}

func TestParallelReduceEmptyRange(t *testing.T) {
	fn, c := buildSumReduce(5, 5)

	rt := abi.New(4)
	defer rt.Close()
	host := &lower.CombineHost{Inner: rt, ConstructID: c.ID, Combine: c.Combine}
	it := interp.New(host)

	res, err := it.Run(fn, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.(int) != 0 {
		t.Fatalf("sum over empty range = %v, want identity 0", res)
	}
}

func TestParallelReduceOddCount(t *testing.T) {
	// An odd partial count exercises the tree combine's carry-forward step.
	fn, c := buildSumReduce(1, 8) // sum(1..7) = 28, 7 partials
	rt := abi.New(4)
	defer rt.Close()
	host := &lower.CombineHost{Inner: rt, ConstructID: c.ID, Combine: c.Combine}
	it := interp.New(host)
	res, err := it.Run(fn, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.(int) != 28 {
		t.Fatalf("sum = %v, want 28", res)
	}
}
