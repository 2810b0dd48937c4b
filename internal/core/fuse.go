package core

import (
	"context"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/brettbedarf/tempofs/config"
	"github.com/brettbedarf/tempofs/filesystem"
	"github.com/brettbedarf/tempofs/internal/util"
)

// FileSystemOperator is the namespace served over FUSE.
// [filesystem.FileSystem] implements it.
type FileSystemOperator interface {
	Config() *config.Config
	MountTime() time.Time
	List() []filesystem.DirEntry
	Lookup(parentID uint64, name string) (*filesystem.Descriptor, error)
	Resolve(id uint64) (*filesystem.Descriptor, error)
	Stat(ctx context.Context, id uint64) (*filesystem.StatInfo, error)
	Open(id uint64, flags uint32) (*filesystem.Handle, error)
	Read(ctx context.Context, fh uint64, offset, length int64) ([]byte, error)
	Close(fh uint64) error
}

// FuseRaw implements the low-level FUSE wire protocol
// It serves as protocol adapter between the FUSE and core filesystem
// See https://www.man7.org/linux//man-pages/man4/fuse.4.html
type FuseRaw struct {
	fuse.RawFileSystem
	fs     FileSystemOperator
	cfg    *config.Config
	server *fuse.Server
}

func NewFuseRaw(fs FileSystemOperator) *FuseRaw {
	r := FuseRaw{
		RawFileSystem: fuse.NewDefaultRawFileSystem(),
		fs:            fs,
		cfg:           fs.Config(),
	}
	return &r
}

func (r *FuseRaw) Init(s *fuse.Server) {
	logger := util.GetLogger("Fuse.Init")
	logger.Debug().Msg("FUSE initialized")
	r.server = s
}

func (r *FuseRaw) OnUnmount() {
	logger := util.GetLogger("Fuse.OnUnmount")
	logger.Info().Msg("FUSE unmounted")
}

func (r *FuseRaw) String() string {
	return "FuseRaw"
}

func (r *FuseRaw) attrTimeout() time.Duration {
	return time.Duration(r.cfg.AttrTimeout * float64(time.Second))
}

func (r *FuseRaw) entryTimeout() time.Duration {
	return time.Duration(r.cfg.EntryTimeout * float64(time.Second))
}

// Access called when the kernel wants to know if the user has permission to access the node.
// If the 'default_permissions' mount option is given, this method is not called.
func (r *FuseRaw) Access(cancel <-chan struct{}, input *fuse.AccessIn) fuse.Status {
	if input.Mask&accessWrite != 0 {
		return fuse.EACCES
	}
	if input.NodeId == filesystem.RootID {
		return fuse.OK
	}
	if _, err := r.fs.Resolve(input.NodeId); err != nil {
		return toStatus(err)
	}
	if input.Mask&accessExec != 0 {
		return fuse.EACCES
	}
	return fuse.OK
}

// Lookup is called by the kernel when the VFS wants to know
// about a file inside a directory. Many lookup calls can
// occur in parallel, but only one call happens for each (dir,
// name) pair.
func (r *FuseRaw) Lookup(cancel <-chan struct{}, header *fuse.InHeader, name string, out *fuse.EntryOut) fuse.Status {
	logger := util.GetLogger("Fuse.Lookup")

	d, err := r.fs.Lookup(header.NodeId, name)
	if err != nil {
		logger.Trace().Uint64("parent", header.NodeId).Str("name", name).Err(err).Msg("Lookup failed")
		return toStatus(err)
	}

	ctx, stop := requestContext(cancel)
	defer stop()
	info, err := r.fs.Stat(ctx, d.ID())
	if err != nil {
		return toStatus(err)
	}

	out.NodeId = d.ID()
	out.Attr = fileAttr(info, r.fs.MountTime())
	out.SetEntryTimeout(r.entryTimeout())
	out.SetAttrTimeout(r.attrTimeout())
	return fuse.OK
}

// Forget is called when the kernel discards entries from its
// dentry cache. Identifiers are fixed for the life of the mount, so there is
// nothing to release.
func (r *FuseRaw) Forget(nodeid, nlookup uint64) {}

func (r *FuseRaw) GetAttr(cancel <-chan struct{}, input *fuse.GetAttrIn, out *fuse.AttrOut) fuse.Status {
	out.SetTimeout(r.attrTimeout())
	if input.NodeId == filesystem.RootID {
		out.Attr = rootAttr(r.fs.MountTime())
		return fuse.OK
	}

	ctx, stop := requestContext(cancel)
	defer stop()
	info, err := r.fs.Stat(ctx, input.NodeId)
	if err != nil {
		return toStatus(err)
	}
	out.Attr = fileAttr(info, r.fs.MountTime())
	return fuse.OK
}

func (r *FuseRaw) Open(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	logger := util.GetLogger("Fuse.Open")

	if input.NodeId == filesystem.RootID {
		return fuse.Status(syscall.EISDIR)
	}
	h, err := r.fs.Open(input.NodeId, input.Flags)
	if err != nil {
		logger.Debug().Uint64("id", input.NodeId).Uint32("flags", input.Flags).Err(err).Msg("Open rejected")
		return toStatus(err)
	}

	out.Fh = h.FH()
	if r.cfg.DirectIO {
		out.OpenFlags |= fuse.FOPEN_DIRECT_IO
	} else {
		out.OpenFlags |= fuse.FOPEN_KEEP_CACHE
	}
	return fuse.OK
}

func (r *FuseRaw) Read(cancel <-chan struct{}, input *fuse.ReadIn, buf []byte) (fuse.ReadResult, fuse.Status) {
	logger := util.GetLogger("Fuse.Read")

	ctx, stop := requestContext(cancel)
	defer stop()

	data, err := r.fs.Read(ctx, input.Fh, int64(input.Offset), int64(input.Size))
	if err != nil {
		status := toStatus(err)
		logger.Debug().Uint64("fh", input.Fh).Uint64("offset", input.Offset).Uint32("size", input.Size).
			Err(err).Str("status", status.String()).Msg("Read failed")
		return nil, status
	}
	return fuse.ReadResultData(data), fuse.OK
}

func (r *FuseRaw) Release(cancel <-chan struct{}, input *fuse.ReleaseIn) {
	if err := r.fs.Close(input.Fh); err != nil {
		logger := util.GetLogger("Fuse.Release")
		logger.Warn().Uint64("fh", input.Fh).Err(err).Msg("Release of unknown handle")
	}
}

func (r *FuseRaw) OpenDir(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	if input.NodeId != filesystem.RootID {
		if _, err := r.fs.Resolve(input.NodeId); err != nil {
			return toStatus(err)
		}
		return fuse.ENOTDIR
	}
	return fuse.OK
}

func (r *FuseRaw) ReadDir(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	return r.readDir(input, out, false)
}

func (r *FuseRaw) ReadDirPlus(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	return r.readDir(input, out, true)
}

// readDir lists "." and ".." followed by every entry in manifest order,
// resuming at input.Offset. Listing never probes; sizes are reported as
// currently known.
func (r *FuseRaw) readDir(input *fuse.ReadIn, out *fuse.DirEntryList, plus bool) fuse.Status {
	logger := util.GetLogger("Fuse.ReadDir")

	if input.NodeId != filesystem.RootID {
		return fuse.ENOTDIR
	}

	entries := make([]fuse.DirEntry, 0, 2+len(r.fs.List()))
	entries = append(entries,
		fuse.DirEntry{Name: ".", Mode: DirMode, Ino: filesystem.RootID},
		fuse.DirEntry{Name: "..", Mode: DirMode, Ino: filesystem.RootID},
	)
	for _, e := range r.fs.List() {
		entries = append(entries, fuse.DirEntry{Name: e.Name, Mode: FileMode, Ino: e.ID})
	}

	for i := int(input.Offset); i < len(entries); i++ {
		e := entries[i]
		e.Off = uint64(i + 1)
		if !plus {
			if !out.AddDirEntry(e) {
				break
			}
			continue
		}

		entryOut := out.AddDirLookupEntry(e)
		if entryOut == nil {
			break
		}
		// "." and ".." must not be looked up.
		if i < 2 {
			continue
		}
		d, err := r.fs.Resolve(e.Ino)
		if err != nil {
			continue
		}
		entryOut.NodeId = e.Ino
		entryOut.Attr = fileAttr(&filesystem.StatInfo{
			ID:      e.Ino,
			Size:    d.Size(),
			ModTime: d.ModTime(),
		}, r.fs.MountTime())
		entryOut.SetEntryTimeout(r.entryTimeout())
		entryOut.SetAttrTimeout(r.attrTimeout())
	}

	logger.Trace().Uint64("offset", input.Offset).Int("entries", len(entries)).Msg("Listed root")
	return fuse.OK
}

func (r *FuseRaw) ReleaseDir(input *fuse.ReleaseIn) {}

func (r *FuseRaw) GetXAttr(cancel <-chan struct{}, header *fuse.InHeader, attr string, dest []byte) (uint32, fuse.Status) {
	d, err := r.fs.Resolve(header.NodeId)
	if err != nil {
		if header.NodeId == filesystem.RootID {
			return 0, fuse.ENOATTR
		}
		return 0, toStatus(err)
	}

	var val string
	switch attr {
	case XAttrURL:
		val = d.URL()
	case XAttrUUID:
		val = d.Entry().UUID.String()
	case XAttrState:
		val = d.State().String()
	default:
		return 0, fuse.ENOATTR
	}
	return copyXAttr(dest, []byte(val))
}

func (r *FuseRaw) ListXAttr(cancel <-chan struct{}, header *fuse.InHeader, dest []byte) (uint32, fuse.Status) {
	if header.NodeId == filesystem.RootID {
		return 0, fuse.OK
	}
	if _, err := r.fs.Resolve(header.NodeId); err != nil {
		return 0, toStatus(err)
	}

	var names []byte
	for _, n := range xattrNames {
		names = append(names, n...)
		names = append(names, 0)
	}
	return copyXAttr(dest, names)
}

// copyXAttr follows the getxattr(2) size protocol: an empty dest asks for
// the required size.
func copyXAttr(dest, val []byte) (uint32, fuse.Status) {
	if len(dest) == 0 {
		return uint32(len(val)), fuse.OK
	}
	if len(dest) < len(val) {
		return uint32(len(val)), fuse.ERANGE
	}
	return uint32(copy(dest, val)), fuse.OK
}

func (r *FuseRaw) StatFs(cancel <-chan struct{}, input *fuse.InHeader, out *fuse.StatfsOut) fuse.Status {
	out.Bsize = blockSize
	out.Frsize = blockSize
	out.Files = uint64(len(r.fs.List()) + 1)
	out.NameLen = 255
	return fuse.OK
}

// Mutations are refused.

func (r *FuseRaw) SetAttr(cancel <-chan struct{}, input *fuse.SetAttrIn, out *fuse.AttrOut) fuse.Status {
	return fuse.EACCES
}

func (r *FuseRaw) Create(cancel <-chan struct{}, input *fuse.CreateIn, name string, out *fuse.CreateOut) fuse.Status {
	return fuse.EACCES
}

func (r *FuseRaw) Mkdir(cancel <-chan struct{}, input *fuse.MkdirIn, name string, out *fuse.EntryOut) fuse.Status {
	return fuse.EACCES
}

func (r *FuseRaw) Unlink(cancel <-chan struct{}, header *fuse.InHeader, name string) fuse.Status {
	return fuse.EACCES
}

func (r *FuseRaw) Rmdir(cancel <-chan struct{}, header *fuse.InHeader, name string) fuse.Status {
	return fuse.EACCES
}

func (r *FuseRaw) Rename(cancel <-chan struct{}, input *fuse.RenameIn, oldName string, newName string) fuse.Status {
	return fuse.EACCES
}

func (r *FuseRaw) Write(cancel <-chan struct{}, input *fuse.WriteIn, data []byte) (uint32, fuse.Status) {
	return 0, fuse.EACCES
}

func (r *FuseRaw) SetXAttr(cancel <-chan struct{}, input *fuse.SetXAttrIn, attr string, data []byte) fuse.Status {
	return fuse.EACCES
}

func (r *FuseRaw) RemoveXAttr(cancel <-chan struct{}, header *fuse.InHeader, attr string) fuse.Status {
	return fuse.EACCES
}

var _ fuse.RawFileSystem = (*FuseRaw)(nil)
