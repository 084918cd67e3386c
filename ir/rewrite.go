package ir

// DiscoverCaptures scans every instruction in fn for operands defined in a
// different function, deduplicating while preserving first-encounter
// order. This is spec.md §4.4 step 1's capture-set discovery, generalized
// to any function (parallel-for bodies and, in principle, any nested
// body).
func DiscoverCaptures(fn *Function) []*Value {
	seen := make(map[*Value]bool)
	var captures []*Value
	for _, b := range fn.Blocks {
		for _, ins := range b.Instr {
			for _, v := range ins.Operands {
				if v.Func == fn || v.Func == nil {
					continue // defined inside fn, or a literal/global
				}
				if seen[v] {
					continue
				}
				seen[v] = true
				captures = append(captures, v)
			}
		}
	}
	return captures
}

// ReplaceUsesIn rewrites every operand reference to old, within fn only, to
// refer to new instead. Uses outside fn are left untouched — spec.md §4.4
// step 4 is explicit that only the body's own uses are rewritten.
func ReplaceUsesIn(fn *Function, old, new *Value) {
	for _, b := range fn.Blocks {
		for _, ins := range b.Instr {
			for i, v := range ins.Operands {
				if v == old {
					ins.Operands[i] = new
				}
			}
		}
	}
}
