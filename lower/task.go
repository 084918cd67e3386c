package lower

import (
	"github.com/coderuntime/parallelrt/abi"
	"github.com/coderuntime/parallelrt/hlir"
	"github.com/coderuntime/parallelrt/ir"
)

// PendingTask tracks one call-site's queued task between QueueTask and
// whatever later forces its result. If AwaitFinalized runs and Await was
// never called for it, it appends an unconditional await+discard — the
// deviation spec.md §9's open question 3 calls for: the source leaks the
// future and arg-struct when a task's result is never consumed, and this
// reimplementation closes that instead of reproducing it.
type PendingTask struct {
	construct *hlir.Construct
	argsPtr   *ir.Value
	awaited   bool
}

// QueueTask lowers one task call site: spec.md §4.5 steps 1-3. In place of
// marker it allocates the task's argument struct, stores each actual
// argument (and leaves the future field for task_queue to fill), and
// queues c.Wrapper. Returns a PendingTask the emitter passes to Await at
// the point it actually needs the result, or to AwaitFinalized at the end
// of the function if it turns out the result is never used.
func QueueTask(c *hlir.Construct, marker *ir.Instruction, actualArgs []*ir.Value) *PendingTask {
	before, after := ir.SplitAt(marker.Block, marker)
	bd := ir.NewBuilder(before)

	argsType := abi.TaskArgsType(c.ArgTypes, c.RetType)
	argsPtr := bd.Call("alloc", nil, ir.PointerType{Elem: argsType})
	for i, actual := range actualArgs {
		fieldPtr := bd.GEP(argsPtr, argsType, 2+i)
		bd.Store(actual, fieldPtr)
	}
	bd.Call("task_queue", []*ir.Value{ir.FuncRef(c.Wrapper), argsPtr}, ir.Void)
	bd.Br(after)

	return &PendingTask{construct: c, argsPtr: argsPtr}
}

// Await forces pt's result at marker: task_await_future followed by a load
// of the return field. Returns the loaded value (nil for a void task).
func Await(pt *PendingTask, marker *ir.Instruction) *ir.Value {
	pt.awaited = true
	before, after := ir.SplitAt(marker.Block, marker)
	bd := ir.NewBuilder(before)

	argsType := abi.TaskArgsType(pt.construct.ArgTypes, pt.construct.RetType)
	bd.Call("task_await_future", []*ir.Value{pt.argsPtr}, ir.Void)
	var result *ir.Value
	if _, void := pt.construct.RetType.(ir.VoidType); !void {
		retFieldPtr := bd.GEP(pt.argsPtr, argsType, 1)
		result = bd.Load(retFieldPtr, pt.construct.RetType)
	}
	bd.Br(after)
	return result
}

// AwaitFinalized inserts an unconditional task_await_future for pt at
// marker (typically just before the owning function's return) if its
// result was never explicitly forced with Await — closing the
// use-never-awaited leak instead of reproducing it.
func AwaitFinalized(pt *PendingTask, marker *ir.Instruction) {
	if pt.awaited {
		return
	}
	Await(pt, marker)
}
