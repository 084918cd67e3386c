package ir

// Builder appends instructions to a single block at a time — the
// lowering passes create one per insertion point (caller marker, body
// prologue, queue loop, await block) rather than threading a cursor
// through every helper.
//
// A Builder created with NewFragmentBuilder has no block yet: it collects
// instructions into a standalone slice instead, for a lowering pass that
// needs to splice a sequence into the middle of an existing block (via
// InsertBefore) rather than append to one it owns outright.
type Builder struct {
	block *Block
	frag  []*Instruction
	seq   int
}

// NewBuilder returns a Builder that appends to b.
func NewBuilder(b *Block) *Builder { return &Builder{block: b} }

// NewFragmentBuilder returns a Builder that collects instructions rather
// than appending them to a block. Retrieve the result with Fragment, then
// splice it into place with InsertBefore.
func NewFragmentBuilder() *Builder { return &Builder{} }

// Fragment returns the instructions collected by a fragment Builder.
func (bd *Builder) Fragment() []*Instruction { return bd.frag }

// Block returns the block this builder currently appends to.
func (bd *Builder) Block() *Block { return bd.block }

// SetBlock redirects subsequent appends to b.
func (bd *Builder) SetBlock(b *Block) { bd.block = b }

func (bd *Builder) name(prefix string) string {
	bd.seq++
	return prefix
}

func (bd *Builder) emit(ins *Instruction) *Instruction {
	if bd.block != nil {
		return bd.block.Append(ins)
	}
	bd.frag = append(bd.frag, ins)
	return ins
}

// Alloca reserves stack space for t and returns a pointer value to it.
func (bd *Builder) Alloca(t Type) *Value {
	res := &Value{Name: bd.name("%alloca"), Typ: PointerType{Elem: t}}
	bd.emit(&Instruction{Op: OpAlloca, Result: res})
	return res
}

// AllocaArray reserves stack space for a fixed-length array and returns a
// pointer to it — the demo programs' "A[i] = …" targets (cmd/parallelrtc,
// package lower's tests), not part of the runtime ABI proper.
func (bd *Builder) AllocaArray(t ArrayType) *Value {
	res := &Value{Name: bd.name("%alloca"), Typ: PointerType{Elem: t}}
	bd.emit(&Instruction{Op: OpAlloca, Result: res})
	return res
}

// Index computes the address of arrayPtr[idx], an array whose elements have
// type elemType.
func (bd *Builder) Index(arrayPtr, idx *Value, elemType Type) *Value {
	res := &Value{Name: bd.name("%index"), Typ: PointerType{Elem: elemType}}
	bd.emit(&Instruction{Op: OpIndex, Operands: []*Value{arrayPtr, idx}, Result: res})
	return res
}

// Store writes val into the memory addressed by ptr.
func (bd *Builder) Store(val, ptr *Value) {
	bd.emit(&Instruction{Op: OpStore, Operands: []*Value{val, ptr}})
}

// Load reads the value addressed by ptr, whose pointee type is t.
func (bd *Builder) Load(ptr *Value, t Type) *Value {
	res := &Value{Name: bd.name("%load"), Typ: t}
	bd.emit(&Instruction{Op: OpLoad, Operands: []*Value{ptr}, Result: res})
	return res
}

// GEP computes the address of field within the struct addressed by ptr.
func (bd *Builder) GEP(ptr *Value, st StructType, field int) *Value {
	res := &Value{Name: bd.name("%gep"), Typ: PointerType{Elem: st.Fields[field]}}
	bd.emit(&Instruction{Op: OpGEP, Operands: []*Value{ptr}, Field: field, Result: res})
	return res
}

// Bitcast reinterprets ptr as pointing to t, without changing its value.
func (bd *Builder) Bitcast(ptr *Value, t Type) *Value {
	res := &Value{Name: bd.name("%bitcast"), Typ: t}
	bd.emit(&Instruction{Op: OpBitcast, Operands: []*Value{ptr}, Result: res})
	return res
}

// Call emits a call to callee (an *ir.Function or an external symbol name)
// with the given arguments. resultType of Void means the call produces no
// value.
func (bd *Builder) Call(callee any, args []*Value, resultType Type) *Value {
	ins := &Instruction{Op: OpCall, Operands: args, Callee: callee}
	if _, void := resultType.(VoidType); !void {
		ins.Result = &Value{Name: bd.name("%call"), Typ: resultType}
	}
	bd.emit(ins)
	return ins.Result
}

// Br emits an unconditional branch to target.
func (bd *Builder) Br(target *Block) {
	bd.emit(&Instruction{Op: OpBr, Target: target})
}

// CondBr emits a conditional branch.
func (bd *Builder) CondBr(cond *Value, then, els *Block) {
	bd.emit(&Instruction{Op: OpCondBr, Operands: []*Value{cond}, Target: then, Else: els})
}

// Ret emits a return, optionally carrying a value.
func (bd *Builder) Ret(val *Value) {
	var ops []*Value
	if val != nil {
		ops = []*Value{val}
	}
	bd.emit(&Instruction{Op: OpRet, Operands: ops})
}

// Const emits a literal value of type t.
func (bd *Builder) Const(val any, t Type) *Value {
	res := &Value{Name: bd.name("%const"), Typ: t}
	bd.emit(&Instruction{Op: OpConst, Const: val, Result: res})
	return res
}

// IAdd emits an integer add.
func (bd *Builder) IAdd(a, b *Value) *Value {
	res := &Value{Name: bd.name("%add"), Typ: a.Typ}
	bd.emit(&Instruction{Op: OpIAdd, Operands: []*Value{a, b}, Result: res})
	return res
}

// ICmpLess emits an integer less-than comparison.
func (bd *Builder) ICmpLess(a, b *Value) *Value {
	res := &Value{Name: bd.name("%cmp"), Typ: I32}
	bd.emit(&Instruction{Op: OpICmp, Operands: []*Value{a, b}, Result: res})
	return res
}
