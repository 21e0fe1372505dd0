package keymanager

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnlockInitializesNewStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	m := NewManager(path)

	require.NoError(t, m.Unlock("master-key"))
	assert.True(t, m.IsUnlocked())
}

func TestUnlockRejectsWrongMasterKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")

	m1 := NewManager(path)
	require.NoError(t, m1.Unlock("correct-key"))

	m2 := NewManager(path)
	err := m2.Unlock("wrong-key")
	assert.Error(t, err)
	assert.False(t, m2.IsUnlocked())
}

func TestPutAndGetSecretsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	m := NewManager(path)
	require.NoError(t, m.Unlock("master-key"))

	env := map[string]string{
		"GITHUB_TOKEN": "ghp_example",
		"REGISTRY_KEY": "reg-secret",
	}
	require.NoError(t, m.PutSecrets("project-a", env))

	got, err := m.GetSecrets("project-a")
	require.NoError(t, err)
	assert.Equal(t, env, got)
}

func TestGetSecretsUnknownProjectReturnsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	m := NewManager(path)
	require.NoError(t, m.Unlock("master-key"))

	got, err := m.GetSecrets("no-such-project")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSecretsPersistAcrossManagerInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")

	m1 := NewManager(path)
	require.NoError(t, m1.Unlock("master-key"))
	require.NoError(t, m1.PutSecrets("project-a", map[string]string{"K": "V"}))

	m2 := NewManager(path)
	require.NoError(t, m2.Unlock("master-key"))
	got, err := m2.GetSecrets("project-a")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"K": "V"}, got)
}

func TestDeleteSecretsRemovesBundle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	m := NewManager(path)
	require.NoError(t, m.Unlock("master-key"))
	require.NoError(t, m.PutSecrets("project-a", map[string]string{"K": "V"}))

	require.NoError(t, m.DeleteSecrets("project-a"))

	got, err := m.GetSecrets("project-a")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOperationsFailWhenLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	m := NewManager(path)

	_, err := m.GetSecrets("project-a")
	assert.Error(t, err)

	err = m.PutSecrets("project-a", map[string]string{"K": "V"})
	assert.Error(t, err)
}

func TestLockClearsMasterKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	m := NewManager(path)
	require.NoError(t, m.Unlock("master-key"))

	m.Lock()
	assert.False(t, m.IsUnlocked())

	_, err := m.GetSecrets("project-a")
	assert.Error(t, err)
}
