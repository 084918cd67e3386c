package ir

// SplitAt splits b's instruction list at marker: a new successor block is
// created holding everything after marker, b keeps everything
// before marker, and marker itself is removed (spec.md §4.4 step 7: the
// marker is an emitter-inserted placeholder, deleted once the lowering
// pass has spliced code in its place). The caller is responsible for
// inserting the branch from b into whatever replaces marker's position.
func SplitAt(b *Block, marker *Instruction) (before *Block, after *Block) {
	idx := -1
	for i, ins := range b.Instr {
		if ins == marker {
			idx = i
			break
		}
	}
	if idx < 0 {
		panic("ir: marker instruction not found in block")
	}

	after = &Block{Name: b.Name + ".cont", Func: b.Func}
	after.Instr = append(after.Instr, b.Instr[idx+1:]...)
	for _, ins := range after.Instr {
		ins.Block = after
	}

	// Splice the successor block into the function's block list right
	// after b, so iteration order still reflects control flow.
	for i, fb := range b.Func.Blocks {
		if fb == b {
			blocks := make([]*Block, 0, len(b.Func.Blocks)+1)
			blocks = append(blocks, b.Func.Blocks[:i+1]...)
			blocks = append(blocks, after)
			blocks = append(blocks, b.Func.Blocks[i+1:]...)
			b.Func.Blocks = blocks
			break
		}
	}

	b.Instr = b.Instr[:idx]
	return b, after
}
