//go:build !windows

package identity

import (
	"fmt"
	"os"
	"syscall"
)

func validateFileOwnership(info os.FileInfo) error {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}

	if currentUID := uint32(os.Getuid()); stat.Uid != currentUID {
		return fmt.Errorf("identity file must be owned by current user (file uid: %d, current uid: %d)", stat.Uid, currentUID)
	}
	return nil
}
