//go:build linux

package store

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/embbtree/embbtree/btreeerr"
)

// datasync issues fdatasync(2) so appends and positioned writes have an
// explicit durability point beyond what *os.File.Sync alone guarantees.
func datasync(f *os.File) error {
	if err := unix.Fdatasync(int(f.Fd())); err != nil {
		return fmt.Errorf("store: fdatasync: %w", btreeerr.ErrIO)
	}
	return nil
}
