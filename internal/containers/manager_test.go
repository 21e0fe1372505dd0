package containers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig(Config{})

	assert.Equal(t, "devteam-runner/exec-env:latest", cfg.Image)
	assert.Equal(t, "/workspace", cfg.WorkspaceMount)
	assert.Equal(t, "/var/runner/cache", cfg.CacheRoot)
	assert.Equal(t, 1.0, cfg.CPULimit)
	assert.Equal(t, int64(1024), cfg.MemMiB)
	assert.Equal(t, 5, cfg.GlobalExecLimit)
}

func TestDefaultConfigPreservesOverrides(t *testing.T) {
	cfg := defaultConfig(Config{
		Image:           "custom:tag",
		CPULimit:        2,
		MemMiB:          2048,
		GlobalExecLimit: 10,
	})

	assert.Equal(t, "custom:tag", cfg.Image)
	assert.Equal(t, 2.0, cfg.CPULimit)
	assert.Equal(t, int64(2048), cfg.MemMiB)
	assert.Equal(t, 10, cfg.GlobalExecLimit)
}

func TestContainerName(t *testing.T) {
	assert.Equal(t, "runner-project-acme", containerName("acme"))
}

func TestHandleReturnsFalseWhenNoContainer(t *testing.T) {
	m := &Manager{containers: make(map[string]*projectContainer)}
	_, ok := m.Handle("unknown-project")
	assert.False(t, ok)
}
