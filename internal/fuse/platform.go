//go:build !cgofuse
// +build !cgofuse

package fuse

import (
	"context"
)

// PlatformFileSystem is the platform-specific mount manager interface.
type PlatformFileSystem interface {
	Mount(ctx context.Context) error
	Unmount() error
	IsMounted() bool
	GetStats() *FilesystemStats
}

// CreatePlatformMountManager creates the mount manager for the platform. On
// everything but the cgofuse build, this is the hanwen/go-fuse dispatcher.
func CreatePlatformMountManager(deps Deps, config *MountConfig) PlatformFileSystem {
	filesystem := NewFileSystem(deps)
	return NewMountManager(filesystem, config)
}
