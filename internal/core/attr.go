package core

import (
	"os"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/brettbedarf/tempofs"
	"github.com/brettbedarf/tempofs/filesystem"
)

func newDefaultAttr(ino uint64, mode uint32, mtime time.Time) fuse.Attr {
	attr := fuse.Attr{
		Ino:   ino,
		Mode:  mode,
		Nlink: 1,
		Owner: fuse.Owner{
			Uid: uint32(os.Getuid()),
			Gid: uint32(os.Getgid()),
		},
		Blksize: blockSize, // preferred size for fs ops
	}
	attr.SetTimes(&mtime, &mtime, &mtime)
	return attr
}

func rootAttr(mountTime time.Time) fuse.Attr {
	attr := newDefaultAttr(filesystem.RootID, DirMode, mountTime)
	attr.Nlink = 2
	return attr
}

// fileAttr reports an unknown size as 0. Reads are served direct so the
// kernel does not stop at that size.
func fileAttr(info *filesystem.StatInfo, mountTime time.Time) fuse.Attr {
	mtime := info.ModTime
	if mtime.IsZero() {
		mtime = mountTime
	}
	attr := newDefaultAttr(info.ID, FileMode, mtime)
	if info.Size != tempofs.UnknownSize {
		attr.Size = uint64(info.Size)
		attr.Blocks = (attr.Size + 511) / 512
	}
	return attr
}
