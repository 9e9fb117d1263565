package store

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/ncw/directio"

	"github.com/embbtree/embbtree/btreeerr"
)

// writeErr classifies a failed write: ENOSPC maps to the tree-level
// NoSpace condition, anything else is a generic IO failure.
func writeErr(op string, pageID uint32, err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("store: %s page %d: %w", op, pageID, btreeerr.ErrNoSpace)
	}
	return fmt.Errorf("store: %s page %d: %w", op, pageID, btreeerr.ErrIO)
}

// FileStore is a BackingStore over a real file. When DirectIO is
// requested and the configured page size is aligned to the platform's
// direct-I/O block size, the file is opened with O_DIRECT via
// github.com/ncw/directio so page transfers bypass the OS page cache —
// appropriate for block-addressable flash/SD media. Otherwise it falls
// back to a normal buffered *os.File.
type FileStore struct {
	f         *os.File
	pageSize  uint32
	direct    bool
	alignBuf  []byte
	nextWrite int64 // next append offset, in pages
}

// OpenFileStore opens or creates path as a page store. direct requests
// O_DIRECT; it is silently downgraded to buffered I/O when pageSize is
// not a multiple of directio.AlignSize, since unaligned O_DIRECT
// transfers fail on most platforms.
func OpenFileStore(path string, pageSize uint32, direct bool) (*FileStore, error) {
	useDirect := direct && pageSize%uint32(directio.AlignSize) == 0

	var f *os.File
	var err error
	if useDirect {
		f, err = directio.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	} else {
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	}
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, btreeerr.ErrIO)
	}

	fs := &FileStore{f: f, pageSize: pageSize, direct: useDirect}
	if useDirect {
		fs.alignBuf = directio.AlignedBlock(int(pageSize))
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("store: stat %s: %w", path, btreeerr.ErrIO)
	}
	fs.nextWrite = info.Size() / int64(pageSize)

	return fs, nil
}

func (fs *FileStore) ReadBlock(pageID uint32, dst []byte) error {
	off := int64(pageID) * int64(fs.pageSize)
	if fs.direct {
		n, err := fs.f.ReadAt(fs.alignBuf, off)
		if err != nil || n != len(fs.alignBuf) {
			return fmt.Errorf("store: short read of page %d: %w", pageID, btreeerr.ErrIO)
		}
		copy(dst, fs.alignBuf)
		return nil
	}
	n, err := fs.f.ReadAt(dst, off)
	if err != nil || n != len(dst) {
		return fmt.Errorf("store: short read of page %d: %w", pageID, btreeerr.ErrIO)
	}
	return nil
}

func (fs *FileStore) writeAligned(off int64, src []byte) (int, error) {
	if fs.direct {
		copy(fs.alignBuf, src)
		return fs.f.WriteAt(fs.alignBuf, off)
	}
	return fs.f.WriteAt(src, off)
}

func (fs *FileStore) AppendBlock(src []byte) (uint32, error) {
	pageID := uint32(fs.nextWrite)
	off := fs.nextWrite * int64(fs.pageSize)
	n, err := fs.writeAligned(off, src)
	if err != nil {
		return 0, writeErr("append", pageID, err)
	}
	if n < len(src) {
		return 0, fmt.Errorf("store: short append at page %d: %w", pageID, btreeerr.ErrIO)
	}
	fs.nextWrite++
	return pageID, nil
}

func (fs *FileStore) WriteBlockAt(pageID uint32, src []byte, byteOffset, length uint32) error {
	off := int64(pageID)*int64(fs.pageSize) + int64(byteOffset)
	if fs.direct {
		// Partial, unaligned writes cannot use O_DIRECT: read-modify-write
		// the full aligned block instead.
		if err := fs.ReadBlock(pageID, fs.alignBuf); err != nil {
			return err
		}
		copy(fs.alignBuf[byteOffset:byteOffset+length], src[:length])
		n, err := fs.f.WriteAt(fs.alignBuf, int64(pageID)*int64(fs.pageSize))
		if err != nil {
			return writeErr("write", pageID, err)
		}
		if n != len(fs.alignBuf) {
			return fmt.Errorf("store: short write at page %d offset %d: %w", pageID, byteOffset, btreeerr.ErrIO)
		}
		return nil
	}
	n, err := fs.f.WriteAt(src[:length], off)
	if err != nil {
		return writeErr("write", pageID, err)
	}
	if uint32(n) != length {
		return fmt.Errorf("store: short write at page %d offset %d: %w", pageID, byteOffset, btreeerr.ErrIO)
	}
	return nil
}

func (fs *FileStore) LengthInPages() (uint32, error) {
	info, err := fs.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("store: stat: %w", btreeerr.ErrIO)
	}
	return uint32(info.Size() / int64(fs.pageSize)), nil
}

func (fs *FileStore) Sync() error {
	if err := fs.f.Sync(); err != nil {
		return fmt.Errorf("store: sync: %w", btreeerr.ErrIO)
	}
	return datasync(fs.f)
}

func (fs *FileStore) Close() error {
	if err := fs.f.Close(); err != nil {
		return fmt.Errorf("store: close: %w", btreeerr.ErrIO)
	}
	return nil
}
