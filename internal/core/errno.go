package core

import (
	"context"
	"errors"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/brettbedarf/tempofs"
)

// toStatus maps engine errors onto the errno reported to the kernel.
func toStatus(err error) fuse.Status {
	if err == nil {
		return fuse.OK
	}

	switch {
	case errors.Is(err, tempofs.ErrNotFound):
		return fuse.ENOENT
	case errors.Is(err, tempofs.ErrNoSubdirectories):
		return fuse.ENOTDIR
	case errors.Is(err, tempofs.ErrReadOnly):
		return fuse.EACCES
	case errors.Is(err, tempofs.ErrBadHandle):
		return fuse.EBADF
	case errors.Is(err, tempofs.ErrInvalidOffset):
		return fuse.EINVAL
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fuse.EINTR
	}

	var rerr *tempofs.ReadError
	if errors.As(err, &rerr) && rerr.Kind != tempofs.ReadTransient {
		return fuse.Status(syscall.EPROTO)
	}
	return fuse.EIO
}
