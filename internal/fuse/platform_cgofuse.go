//go:build cgofuse
// +build cgofuse

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

// CreatePlatformMountManager creates the cgofuse mount manager.
func CreatePlatformMountManager(deps Deps, config *MountConfig) PlatformFileSystem {
	return NewCgoFuseMountManager(deps, config)
}
