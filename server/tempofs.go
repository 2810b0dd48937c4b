package server

import (
	"errors"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/brettbedarf/tempofs/config"
	"github.com/brettbedarf/tempofs/filesystem"
	"github.com/brettbedarf/tempofs/internal/core"
	"github.com/brettbedarf/tempofs/internal/util"
)

var errNotMounted = errors.New("filesystem is not mounted")

// Tempofs mounts a namespace built by [filesystem.NewFS] and serves it over
// FUSE.
type Tempofs struct {
	*filesystem.FileSystem
	cfg    *config.Config
	server *fuse.Server
}

// New wraps fs for serving. cfg supplies the mount options.
func New(cfg *config.Config, fs *filesystem.FileSystem) *Tempofs {
	return &Tempofs{
		FileSystem: fs,
		cfg:        cfg,
	}
}

// MountOptions translates the configuration into go-fuse mount options.
func (fs *Tempofs) MountOptions() *fuse.MountOptions {
	opts := fs.cfg.MountOptions
	return &fuse.MountOptions{
		Name:         opts.Name,
		FsName:       opts.FsName,
		Debug:        opts.Debug || fs.cfg.LogLvl == util.TraceLevel,
		Logger:       util.NewLogLogger("FuseServer", util.TraceLevel),
		MaxReadAhead: fs.cfg.MaxReadAhead,
		AllowOther:   false,
		Options:      []string{"ro", "default_permissions"},
	}
}

// Serve mounts the filesystem at mountPoint and returns once the mount is
// ready. Requests are served in the background until Unmount.
func (fs *Tempofs) Serve(mountPoint string) error {
	logger := util.GetLogger("Tempofs.Serve")

	raw := core.NewFuseRaw(fs.FileSystem)
	srv, err := fuse.NewServer(raw, mountPoint, fs.MountOptions())
	if err != nil {
		return err
	}
	fs.server = srv

	go srv.Serve()
	if err := srv.WaitMount(); err != nil {
		return err
	}
	logger.Info().Str("mountpoint", mountPoint).Int("entries", fs.Len()).Msg("Mounted")
	return nil
}

// Wait blocks until the filesystem is unmounted.
func (fs *Tempofs) Wait() error {
	if fs.server == nil {
		return errNotMounted
	}
	fs.server.Wait()
	return nil
}

// Unmount cleanly unmounts the filesystem.
func (fs *Tempofs) Unmount() error {
	if fs.server == nil {
		return nil
	}
	return fs.server.Unmount()
}
