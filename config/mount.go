package config

// MountOptions holds high-level settings for mounting.
// No go-fuse types are exposed here.
type MountOptions struct {
	Debug  bool   // fuse protocol debug logs
	FsName string // mount's FsName (first column of /proc/mounts)
	Name   string // mount's Name (fuse.<Name> type)
}
