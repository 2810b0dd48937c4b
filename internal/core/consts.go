package core

import "syscall"

type SysAttrType uint32

const (
	DirAttr  SysAttrType = syscall.S_IFDIR
	FileAttr SysAttrType = syscall.S_IFREG
)

// Everything is read-only.
const (
	DirMode  = uint32(DirAttr) | 0o555
	FileMode = uint32(FileAttr) | 0o444
)

const blockSize = 4096

// access(2) mask bits
const (
	accessExec  = 1
	accessWrite = 2
)

// Extended attributes exposed on every file.
const (
	XAttrURL   = "user.tempofs.url"
	XAttrUUID  = "user.tempofs.uuid"
	XAttrState = "user.tempofs.state"
)

var xattrNames = []string{XAttrURL, XAttrUUID, XAttrState}
