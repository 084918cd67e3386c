package affinity

import "golang.org/x/sys/unix"

func nice(delta int) error {
	tid := unix.Gettid()
	return unix.Setpriority(unix.PRIO_PROCESS, tid, delta)
}
