package lower_test

import (
	"testing"

	"github.com/coderuntime/parallelrt/abi"
	"github.com/coderuntime/parallelrt/hlir"
	"github.com/coderuntime/parallelrt/ir"
	"github.com/coderuntime/parallelrt/ir/interp"
	"github.com/coderuntime/parallelrt/lower"
)

// buildFib constructs:
//
//	int fib(int n) {
//	  if (n < 2) return n;
//	  t1 = task fib(n-1);
//	  t2 = task fib(n-2);
//	  return await(t1) + await(t2);
//	}
//
// spec.md §8 scenario E2.
func buildFib() (*ir.Module, *ir.Function) {
	m := &ir.Module{Name: "fib"}
	fn := m.NewFunction("fib")
	n := fn.Param("n", ir.I32)

	entry := fn.NewBlock("entry")
	bd := ir.NewBuilder(entry)
	two := bd.Const(2, ir.I32)
	lt2 := bd.ICmpLess(n, two)

	baseCase := fn.NewBlock("base")
	recCase := fn.NewBlock("rec")
	bd.CondBr(lt2, baseCase, recCase)

	bdBase := ir.NewBuilder(baseCase)
	bdBase.Ret(n)

	bdRec := ir.NewBuilder(recCase)
	one := bdRec.Const(1, ir.I32)
	nMinus1 := bdRec.IAdd(n, bdRec.Const(-1, ir.I32))
	_ = one
	nMinus2 := bdRec.IAdd(n, bdRec.Const(-2, ir.I32))

	marker1 := ir.NewMarker()
	recCase.Append(marker1)
	marker2 := ir.NewMarker()
	recCase.Append(marker2)
	awaitMarker1 := ir.NewMarker()
	recCase.Append(awaitMarker1)
	awaitMarker2 := ir.NewMarker()
	recCase.Append(awaitMarker2)
	bdRec.Ret(nil) // placeholder operand fixed up below

	hm := hlir.GetModule(m)
	c := hm.CreateTask(fn, []ir.Type{ir.I32}, ir.I32)

	pt1 := lower.QueueTask(c, marker1, []*ir.Value{nMinus1})
	pt2 := lower.QueueTask(c, marker2, []*ir.Value{nMinus2})
	r1 := lower.Await(pt1, awaitMarker1)
	r2 := lower.Await(pt2, awaitMarker2)

	// The placeholder ret(nil) has been relocated by the marker chain's
	// SplitAt calls into whatever block now follows the last marker; splice
	// the sum in immediately before it, then give it sum as its operand.
	retBlock := findRetBlock(fn)
	retIns := retBlock.Instr[len(retBlock.Instr)-1]
	frag := ir.NewFragmentBuilder()
	sum := frag.IAdd(r1, r2)
	ir.InsertKeepingMarker(retBlock, retIns, frag.Fragment()...)
	retIns.Operands = []*ir.Value{sum}

	return m, fn
}

func findRetBlock(fn *ir.Function) *ir.Block {
	for _, b := range fn.Blocks {
		if len(b.Instr) > 0 && b.Instr[len(b.Instr)-1].Op == ir.OpRet {
			if len(b.Instr[len(b.Instr)-1].Operands) == 0 {
				return b
			}
		}
	}
	panic("no placeholder ret found")
}

func runFib(t *testing.T, fn *ir.Function, n int) int {
	t.Helper()
	// A naive recursive fork-join over a thread pool can deadlock if every
	// worker ends up blocked awaiting a subtask with none free to run it;
	// oversizing the pool relative to fib's recursion depth/breadth avoids
	// that here: fib(15) has 986 non-leaf calls, so 1024 workers leave one
	// free even if every one of them is blocked at once. See DESIGN.md's
	// note on task-await worker exhaustion.
	rt := abi.New(1024)
	defer rt.Close()
	it := interp.New(rt)
	res, err := it.Run(fn, []any{n})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return res.(int)
}

func TestTaskFibonacci(t *testing.T) {
	_, fn := buildFib()

	cases := map[int]int{0: 0, 1: 1, 10: 55, 15: 610}
	for n, want := range cases {
		got := runFib(t, fn, n)
		if got != want {
			t.Fatalf("fib(%d) = %d, want %d", n, got, want)
		}
	}
}
