// Package interp executes ir.Function bodies. A real backend would compile
// package ir's instructions to machine code that calls into the runtime
// C-ABI facade directly; this interpreter plays that role for testing the
// lowering passes end to end without a native code generator.
package interp

import (
	"fmt"

	"github.com/coderuntime/parallelrt/ir"
)

// Cell is one addressable memory location — the runtime stand-in for
// whatever an ir.PointerType ultimately points at.
type Cell struct{ Val any }

// StructMem is the runtime memory for an ir.StructType: one Cell per
// field, in declaration order. Captured-args structs, task arg-structs,
// and the parallel-for body's {synch, index, args} triple are all
// StructMem values.
type StructMem struct{ Fields []*Cell }

// NewStructMem allocates zeroed memory shaped like st.
func NewStructMem(st ir.StructType) *StructMem {
	fields := make([]*Cell, len(st.Fields))
	for i := range fields {
		fields[i] = &Cell{}
	}
	return &StructMem{Fields: fields}
}

// ArrayMem is the runtime memory for an ir.ArrayType: N Cells, addressed by
// runtime index rather than a static field number.
type ArrayMem struct{ Elems []*Cell }

// NewArrayMem allocates zeroed memory for an n-element array.
func NewArrayMem(n int) *ArrayMem {
	elems := make([]*Cell, n)
	for i := range elems {
		elems[i] = &Cell{}
	}
	return &ArrayMem{Elems: elems}
}

// Host executes calls to external symbols (the runtime C-ABI facade) that
// package ir's OpCall instructions reference by name instead of by
// *ir.Function. A returned error propagates out of Run without panicking
// — this is how allocation failure (spec.md §7) surfaces as a normal error
// instead of a crash.
type Host interface {
	Call(name string, args []any, resultType ir.Type) (any, error)
}

// Interp runs ir.Function bodies against a Host.
type Interp struct{ Host Host }

// New returns an Interp that dispatches external calls to host.
func New(host Host) *Interp { return &Interp{Host: host} }

// Run executes fn with the given parameter values bound in order and
// returns its ir.OpRet value (nil for void functions) or the first error
// returned by a Host call.
func (in *Interp) Run(fn *ir.Function, args []any) (any, error) {
	env := make(map[*ir.Value]any, 16)
	for i, p := range fn.Params {
		if i < len(args) {
			env[p] = args[i]
		}
	}

	block := fn.Entry
	if block == nil {
		panic(fmt.Sprintf("interp: function %s has no entry block", fn.Name))
	}

	for {
		var next *ir.Block
		var retVal any
		returned := false

		for _, ins := range block.Instr {
			switch ins.Op {
			case ir.OpAlloca:
				if st, ok := elemStruct(ins.Result.Typ); ok {
					env[ins.Result] = NewStructMem(st)
				} else if at, ok := elemArray(ins.Result.Typ); ok {
					env[ins.Result] = NewArrayMem(at.N)
				} else {
					env[ins.Result] = &Cell{}
				}

			case ir.OpStore:
				val := resolve(env, ins.Operands[0])
				ptr, ok := resolve(env, ins.Operands[1]).(*Cell)
				if !ok {
					panic("interp: store to a non-Cell pointer")
				}
				ptr.Val = val

			case ir.OpLoad:
				ptr, ok := resolve(env, ins.Operands[0]).(*Cell)
				if !ok {
					panic("interp: load from a non-Cell pointer")
				}
				env[ins.Result] = ptr.Val

			case ir.OpGEP:
				sm, ok := resolve(env, ins.Operands[0]).(*StructMem)
				if !ok {
					panic("interp: gep on a non-struct pointer")
				}
				if ins.Field < 0 || ins.Field >= len(sm.Fields) {
					panic("interp: gep field index out of range")
				}
				env[ins.Result] = sm.Fields[ins.Field]

			case ir.OpIndex:
				am, ok := resolve(env, ins.Operands[0]).(*ArrayMem)
				if !ok {
					panic("interp: index on a non-array pointer")
				}
				idx := toInt(resolve(env, ins.Operands[1]))
				if idx < 0 || idx >= len(am.Elems) {
					panic("interp: array index out of range")
				}
				env[ins.Result] = am.Elems[idx]

			case ir.OpBitcast:
				// Type-erased pointer tunnel: the runtime value crosses
				// unchanged, matching the opaque-pointer C-ABI (spec.md §9).
				env[ins.Result] = resolve(env, ins.Operands[0])

			case ir.OpConst:
				env[ins.Result] = ins.Const

			case ir.OpIAdd:
				a := toInt(resolve(env, ins.Operands[0]))
				b := toInt(resolve(env, ins.Operands[1]))
				env[ins.Result] = a + b

			case ir.OpICmp:
				a := toInt(resolve(env, ins.Operands[0]))
				b := toInt(resolve(env, ins.Operands[1]))
				env[ins.Result] = a < b

			case ir.OpCall:
				argVals := make([]any, len(ins.Operands))
				for i, op := range ins.Operands {
					argVals[i] = resolve(env, op)
				}
				switch callee := ins.Callee.(type) {
				case *ir.Function:
					res, err := in.Run(callee, argVals)
					if err != nil {
						return nil, err
					}
					if ins.Result != nil {
						env[ins.Result] = res
					}
				case string:
					var rt ir.Type = ir.Void
					if ins.Result != nil {
						rt = ins.Result.Typ
					}
					res, err := in.Host.Call(callee, argVals, rt)
					if err != nil {
						return nil, err
					}
					if ins.Result != nil {
						env[ins.Result] = res
					}
				default:
					panic(fmt.Sprintf("interp: unrecognized callee %T", callee))
				}

			case ir.OpBr:
				next = ins.Target

			case ir.OpCondBr:
				cond, ok := resolve(env, ins.Operands[0]).(bool)
				if !ok {
					panic("interp: condbr on a non-bool value")
				}
				if cond {
					next = ins.Target
				} else {
					next = ins.Else
				}

			case ir.OpRet:
				returned = true
				if len(ins.Operands) > 0 {
					retVal = resolve(env, ins.Operands[0])
				}

			default:
				panic(fmt.Sprintf("interp: unhandled op %q", ins.Op))
			}
		}

		if returned {
			return retVal, nil
		}
		if next == nil {
			panic(fmt.Sprintf("interp: block %q in %q falls off the end without a terminator", block.Name, fn.Name))
		}
		block = next
	}
}

// resolve reads v's runtime value: a function-pointer literal resolves to
// its *ir.Function directly (it has no defining instruction to look up in
// env), everything else comes from whatever instruction last wrote env[v].
func resolve(env map[*ir.Value]any, v *ir.Value) any {
	if v.ConstFunc != nil {
		return v.ConstFunc
	}
	return env[v]
}

func elemStruct(t ir.Type) (ir.StructType, bool) {
	p, ok := t.(ir.PointerType)
	if !ok {
		return ir.StructType{}, false
	}
	st, ok := p.Elem.(ir.StructType)
	return st, ok
}

func elemArray(t ir.Type) (ir.ArrayType, bool) {
	p, ok := t.(ir.PointerType)
	if !ok {
		return ir.ArrayType{}, false
	}
	at, ok := p.Elem.(ir.ArrayType)
	return at, ok
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	default:
		panic(fmt.Sprintf("interp: expected integer, got %T", v))
	}
}
