//go:build !linux

package store

import "os"

// datasync has no portable equivalent of fdatasync outside Linux; the
// *os.File.Sync call already performed by FileStore.Sync is the
// platform's durability point here.
func datasync(f *os.File) error { return nil }
