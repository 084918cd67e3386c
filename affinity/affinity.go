// Package affinity gives thread-pool worker goroutines a best-effort
// scheduling hint, the way sclevine/xsum's sys.go/sys_linux.go/sys_darwin.go
// split handles one concern differently per OS while sharing one API
// across all of them. Here the concern is nice-ing pool workers so a large
// parallel-for doesn't starve the rest of the machine, not file metadata,
// but the file layout (a cross-platform declaration, one implementation
// file per OS build tag) is the same idiom.
package affinity

// Nice sets the current OS thread's nice value to delta via setpriority
// (positive values mean lower priority). The value is absolute, not an
// increment on the current nice value; on Darwin it applies to the whole
// process. It's a hint: platforms without a meaningful equivalent
// silently no-op.
func Nice(delta int) error {
	return nice(delta)
}
