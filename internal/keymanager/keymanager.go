// Package keymanager encrypts per-project container secrets (git and
// registry credentials) at rest before they are ever handed to a
// container's exec env (§4.B: "Secret values passed through `env` are
// never persisted to the volume"). Grounded on the donor's
// internal/keymanager, a master-password CLI credential store;
// repurposed here from named user-facing entries to one secret bundle
// per project, unlocked once at process start from a runner-managed
// master key rather than an interactive prompt (the runner is
// headless — see SPEC_FULL.md's dropped golang.org/x/term dependency).
package keymanager

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 32
	keySize    = 32
	iterations = 100000
)

// ProjectSecrets is one project's encrypted secret bundle.
type ProjectSecrets struct {
	ProjectID     string    `json:"project_id"`
	EncryptedData string    `json:"encrypted_data"` // base64 AES-GCM ciphertext of a JSON env map
	UpdatedAt     time.Time `json:"updated_at"`
}

// store is the on-disk shape: one salted verification hash for the
// master key plus a bundle per project.
type store struct {
	Version        string                     `json:"version"`
	MasterSalt     string                     `json:"master_salt"`
	MasterVerify   string                     `json:"master_verify"`
	ProjectBundles map[string]*ProjectSecrets `json:"project_bundles"`
}

// Manager unlocks once at startup with a master key and thereafter
// encrypts/decrypts per-project secret bundles on demand.
type Manager struct {
	storePath string
	master    []byte

	mu       sync.RWMutex
	s        *store
	unlocked bool
}

// NewManager creates a manager backed by storePath (typically under
// the Repository Cache Manager's root, alongside each project's
// working tree, but never inside the bind-mounted workspace itself).
func NewManager(storePath string) *Manager {
	return &Manager{
		storePath: storePath,
		s:         &store{ProjectBundles: make(map[string]*ProjectSecrets)},
	}
}

// Unlock derives the encryption key from masterKey (sourced from the
// runner's own config/env, never a TTY prompt) and loads or
// initializes the on-disk store.
func (m *Manager) Unlock(masterKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.master = []byte(masterKey)

	if err := m.load(); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("unlock key store: %w", err)
		}
		m.s = &store{Version: "1.0", ProjectBundles: make(map[string]*ProjectSecrets)}
		if err := m.initMasterVerify(); err != nil {
			return fmt.Errorf("initialize master key: %w", err)
		}
		if err := m.save(); err != nil {
			return fmt.Errorf("initialize key store: %w", err)
		}
	}

	if m.s.MasterVerify != "" {
		if err := m.verifyMaster(masterKey); err != nil {
			m.master = nil
			return err
		}
	}

	m.unlocked = true
	return nil
}

func (m *Manager) initMasterVerify() error {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return err
	}
	m.s.MasterSalt = base64.StdEncoding.EncodeToString(salt)
	verify := pbkdf2.Key(m.master, salt, iterations, keySize, sha256.New)
	m.s.MasterVerify = base64.StdEncoding.EncodeToString(verify)
	return nil
}

func (m *Manager) verifyMaster(masterKey string) error {
	salt, err := base64.StdEncoding.DecodeString(m.s.MasterSalt)
	if err != nil {
		return fmt.Errorf("decode master salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(masterKey), salt, iterations, keySize, sha256.New)
	if base64.StdEncoding.EncodeToString(derived) != m.s.MasterVerify {
		return errors.New("invalid master key")
	}
	return nil
}

// IsUnlocked reports whether Unlock succeeded.
func (m *Manager) IsUnlocked() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlocked
}

// PutSecrets encrypts and stores the env map for a project, replacing
// any existing bundle.
func (m *Manager) PutSecrets(projectID string, env map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.unlocked {
		return errors.New("key store is locked")
	}

	plaintext, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal secrets: %w", err)
	}

	ciphertext, err := m.encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("encrypt secrets: %w", err)
	}

	m.s.ProjectBundles[projectID] = &ProjectSecrets{
		ProjectID:     projectID,
		EncryptedData: base64.StdEncoding.EncodeToString(ciphertext),
		UpdatedAt:     time.Now(),
	}
	return m.save()
}

// GetSecrets decrypts and returns a project's env map for handing to
// containers.Manager.Exec's ExecOptions.Env. The returned map is never
// written back to disk by the caller.
func (m *Manager) GetSecrets(projectID string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.unlocked {
		return nil, errors.New("key store is locked")
	}

	bundle, ok := m.s.ProjectBundles[projectID]
	if !ok {
		return map[string]string{}, nil
	}

	ciphertext, err := base64.StdEncoding.DecodeString(bundle.EncryptedData)
	if err != nil {
		return nil, fmt.Errorf("decode secrets: %w", err)
	}
	plaintext, err := m.decrypt(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypt secrets: %w", err)
	}

	var env map[string]string
	if err := json.Unmarshal(plaintext, &env); err != nil {
		return nil, fmt.Errorf("unmarshal secrets: %w", err)
	}
	return env, nil
}

// DeleteSecrets removes a project's secret bundle, e.g. on project
// teardown.
func (m *Manager) DeleteSecrets(projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.unlocked {
		return errors.New("key store is locked")
	}
	delete(m.s.ProjectBundles, projectID)
	return m.save()
}

// Lock clears the master key from memory.
func (m *Manager) Lock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.master {
		m.master[i] = 0
	}
	m.master = nil
	m.unlocked = false
}

func (m *Manager) encrypt(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	key := pbkdf2.Key(m.master, salt, iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 0, saltSize+len(nonce)+len(ciphertext))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

func (m *Manager) decrypt(data []byte) ([]byte, error) {
	if len(data) < saltSize {
		return nil, errors.New("invalid encrypted data")
	}
	salt := data[:saltSize]
	data = data[saltSize:]
	key := pbkdf2.Key(m.master, salt, iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(data) < gcm.NonceSize() {
		return nil, errors.New("invalid encrypted data")
	}
	nonce := data[:gcm.NonceSize()]
	ciphertext := data[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.storePath)
	if err != nil {
		return err
	}
	var s store
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s.ProjectBundles == nil {
		s.ProjectBundles = make(map[string]*ProjectSecrets)
	}
	m.s = &s
	return nil
}

func (m *Manager) save() error {
	data, err := json.MarshalIndent(m.s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.storePath), 0700); err != nil {
		return err
	}
	return os.WriteFile(m.storePath, data, 0600)
}
