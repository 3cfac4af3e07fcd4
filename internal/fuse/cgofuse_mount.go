//go:build cgofuse
// +build cgofuse

package fuse

import (
	"context"
)

// CgoFuseMountManager manages cgofuse-based mounts.
type CgoFuseMountManager struct {
	filesystem *CgoFuseFS
	config     *MountConfig
}

// NewCgoFuseMountManager creates a cgofuse mount manager over deps.
func NewCgoFuseMountManager(deps Deps, config *MountConfig) *CgoFuseMountManager {
	return &CgoFuseMountManager{
		filesystem: NewCgoFuseFS(deps, config.MountPoint),
		config:     config,
	}
}

// Mount mounts the filesystem.
func (m *CgoFuseMountManager) Mount(ctx context.Context) error {
	return m.filesystem.Mount(ctx)
}

// Unmount unmounts the filesystem.
func (m *CgoFuseMountManager) Unmount() error {
	return m.filesystem.Unmount()
}

// IsMounted returns whether the filesystem is mounted.
func (m *CgoFuseMountManager) IsMounted() bool {
	return m.filesystem.IsMounted()
}

// GetStats returns filesystem statistics.
func (m *CgoFuseMountManager) GetStats() *FilesystemStats {
	return m.filesystem.GetStats()
}
