// Package diskspace guards build starts against a full volume. A small
// upload inflates by orders of magnitude during a build (node_modules,
// Gradle caches, the packaged output), so the worker refuses to start a
// job when the builds volume lacks headroom instead of failing midway
// through a stage with a half-written workspace.
package diskspace

import "fmt"

// MinBuildHeadroom is the free space a build slot requires before it
// starts. A front-end install plus a Gradle assemble routinely consumes
// several hundred megabytes.
const MinBuildHeadroom int64 = 1 << 30 // 1 GB

// LowSpaceError reports a volume below the required headroom.
type LowSpaceError struct {
	Dir  string
	Need int64
	Free int64
}

func (e *LowSpaceError) Error() string {
	return fmt.Sprintf("not enough free disk space in %s: need %d MB, have %d MB",
		e.Dir, e.Need/(1<<20), e.Free/(1<<20))
}

// Check returns a *LowSpaceError when dir's volume has fewer than need
// bytes available. Volumes that cannot be measured (network mounts,
// virtual filesystems) pass the check and fail naturally later.
func Check(dir string, need int64) error {
	avail, ok := free(dir)
	if !ok {
		return nil
	}
	if avail < need {
		return &LowSpaceError{Dir: dir, Need: need, Free: avail}
	}
	return nil
}

// Free returns the bytes available to the process on dir's volume, or 0
// when the volume cannot be measured.
func Free(dir string) int64 {
	avail, _ := free(dir)
	return avail
}
