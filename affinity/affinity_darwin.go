package affinity

import (
	"os"

	"golang.org/x/sys/unix"
)

// Darwin's unix package doesn't expose a per-thread gettid the way Linux
// does, so this nices the whole process rather than just the calling
// goroutine's underlying thread — a coarser hint than Linux gets, but
// still steers the scheduler away from worker goroutines starving the
// rest of the machine.
func nice(delta int) error {
	return unix.Setpriority(unix.PRIO_PROCESS, os.Getpid(), delta)
}
