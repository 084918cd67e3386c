package lower

import (
	"github.com/coderuntime/parallelrt/hlir"
	"github.com/coderuntime/parallelrt/ir"
	"github.com/coderuntime/parallelrt/ir/interp"
)

// combineSymbol is the name lower.ParallelReduce's generated combine-stage
// calls use; it isn't one of the eight runtime facade symbols (spec.md
// §4.3) — it's new plumbing for the combine stage the source never
// implemented (spec.md §9's open question on parallel-reduce). Dispatching
// it requires running the combine-stage block through a Host that knows
// about it; see CombineHost.
const combineSymbol = "reduce_combine"

// CombineHost decorates an interp.Host, answering reduce_combine calls
// itself (by invoking c.Combine) and forwarding everything else — the
// eight real facade symbols — to inner. Run a construct's containing
// function through one of these so its combine-stage IR has something to
// dispatch to. ConstructID is recorded but Call does not check it: every
// reduce_combine call it sees is answered with Combine. Queued per-iteration
// work still runs against the plain abi.Runtime, since reduce_combine only
// appears in the caller's own combine block.
type CombineHost struct {
	Inner       interp.Host
	ConstructID int
	Combine     func(a, b any) any
}

// Call implements interp.Host.
func (h *CombineHost) Call(name string, args []any, resultType ir.Type) (any, error) {
	if name == combineSymbol {
		return h.Combine(args[0], args[1]), nil
	}
	return h.Inner.Call(name, args, resultType)
}

// ParallelReduce lowers a parallel-reduce construct. The per-iteration
// scheduling is identical to ParallelFor — each iteration's queued body
// writes its contribution into c.Partials[index-Start], discovered and
// unpacked as just another capture — so this reuses buildCapturedArgsPrologue
// and emitQueueLoop wholesale. What's new is the combine stage appended
// after the queue loop's await_synch: a pairwise tree reduction over the
// completed partials, ⌈log2 M⌉ rounds deep, combining neighbors
// left-to-right and carrying an unpaired trailing element forward
// unchanged, so the result is deterministic regardless of whether Combine
// happens to be commutative.
func ParallelReduce(c *hlir.Construct) {
	captures := ir.DiscoverCaptures(c.Body)
	capturedType := buildCapturedArgsPrologue(c, captures)
	end, after := emitQueueLoop(c, captures, capturedType, ForPriority)
	emitCombineStage(c, end, after)
}

func emitCombineStage(c *hlir.Construct, end, after *ir.Block) {
	bd := ir.NewBuilder(end)
	n := c.End - c.Start

	if n <= 0 {
		bd.Store(bd.Const(c.Identity, c.ReduceType), c.Dest)
		bd.Br(after)
		return
	}

	cur := make([]*ir.Value, n)
	for i := 0; i < n; i++ {
		idx := bd.Const(i, ir.I32)
		elemPtr := bd.Index(c.Partials, idx, c.ReduceType)
		cur[i] = bd.Load(elemPtr, c.ReduceType)
	}

	for len(cur) > 1 {
		var next []*ir.Value
		i := 0
		for i+1 < len(cur) {
			combined := bd.Call(combineSymbol, []*ir.Value{cur[i], cur[i+1]}, c.ReduceType)
			next = append(next, combined)
			i += 2
		}
		if i < len(cur) {
			next = append(next, cur[i])
		}
		cur = next
	}

	bd.Store(cur[0], c.Dest)
	bd.Br(after)
}
