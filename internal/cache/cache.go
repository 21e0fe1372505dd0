// Package cache implements the Repository Cache Manager (§4.A):
// clones/fetches project repos into a project-scoped cache directory
// and exposes a working tree per execution. Concurrent ensures for the
// same project are serialized by a per-project lock; other projects
// proceed in parallel (§4.A, §5).
package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jordanhubbard/devteam-runner/internal/git"
	"github.com/jordanhubbard/devteam-runner/internal/runnerrors"
	"github.com/jordanhubbard/devteam-runner/pkg/models"
)

// Manager owns the on-disk repository cache exclusively (§3 ownership rule).
type Manager struct {
	root        string
	ttl         time.Duration
	cloneRetries int
	branchPrefix string

	mu      sync.Mutex
	entries map[string]*models.RepoCacheEntry
	locks   map[string]*sync.Mutex
}

// Config configures the Repository Cache Manager.
type Config struct {
	Root         string
	TTL          time.Duration // §3 RepoCacheEntry TTL, default 7 days
	CloneRetries int           // §4.A bounded backoff, ≤3 attempts
	BranchPrefix string
}

func NewManager(cfg Config) *Manager {
	if cfg.Root == "" {
		cfg.Root = "/var/runner/cache"
	}
	if cfg.TTL == 0 {
		cfg.TTL = 7 * 24 * time.Hour
	}
	if cfg.CloneRetries == 0 {
		cfg.CloneRetries = 3
	}
	if cfg.BranchPrefix == "" {
		cfg.BranchPrefix = "task/"
	}
	return &Manager{
		root:         cfg.Root,
		ttl:          cfg.TTL,
		cloneRetries: cfg.CloneRetries,
		branchPrefix: cfg.BranchPrefix,
		entries:      make(map[string]*models.RepoCacheEntry),
		locks:        make(map[string]*sync.Mutex),
	}
}

func (m *Manager) localPath(projectID string) string {
	return filepath.Join(m.root, projectID)
}

// projectLock returns the per-project serialization lock (§4.A:
// "Concurrent ensures for the same project are serialized by a
// per-project lock; other projects proceed in parallel").
func (m *Manager) projectLock(projectID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[projectID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[projectID] = l
	}
	return l
}

// Ensure clones the repo on first use, or fetches and fast-forwards
// the default branch on subsequent calls (§4.A ensure).
func (m *Manager) Ensure(ctx context.Context, projectID, repoURL string) (string, error) {
	lock := m.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	path := m.localPath(projectID)

	if _, err := os.Stat(filepath.Join(path, ".git")); err == nil {
		if err := m.fetchAndFastForward(ctx, projectID, path); err != nil {
			return "", err
		}
		return path, nil
	}

	if err := m.cloneWithRetry(ctx, repoURL, path); err != nil {
		return "", err
	}

	svc, err := git.NewGitService(path, projectID)
	if err != nil {
		return "", &runnerrors.RepoError{Kind: runnerrors.RepoClone, Err: err}
	}
	branch, err := svc.GetDefaultBranch(ctx)
	if err != nil {
		branch = "main"
	}

	m.mu.Lock()
	m.entries[projectID] = &models.RepoCacheEntry{
		ProjectID:     projectID,
		LocalPath:     path,
		LastFetchedAt: time.Now(),
		CurrentBranch: branch,
	}
	m.mu.Unlock()

	return path, nil
}

// cloneWithRetry clones with bounded exponential backoff (≤3 attempts,
// §4.A, §7 RepoError{clone} retryable).
func (m *Manager) cloneWithRetry(ctx context.Context, repoURL, path string) error {
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(m.cloneRetries-1))
	op := func() error {
		_, err := git.Clone(ctx, repoURL, path, filepath.Base(path))
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return &runnerrors.RepoError{Kind: runnerrors.RepoClone, Err: err}
	}
	return nil
}

// fetchAndFastForward fetches and fast-forwards the default branch
// with bounded retry (§4.A, §7 RepoError{fetch} retryable).
func (m *Manager) fetchAndFastForward(ctx context.Context, projectID, path string) error {
	svc, err := git.NewGitService(path, projectID)
	if err != nil {
		return &runnerrors.RepoError{Kind: runnerrors.RepoFetch, Err: err}
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(m.cloneRetries-1))
	op := func() error { return svc.Fetch(ctx) }
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return &runnerrors.RepoError{Kind: runnerrors.RepoFetch, Err: err}
	}

	branch, err := svc.GetDefaultBranch(ctx)
	if err != nil {
		branch = "main"
	}
	if err := svc.FastForwardDefaultBranch(ctx, branch); err != nil {
		return &runnerrors.RepoError{Kind: runnerrors.RepoFetch, Err: err}
	}

	m.mu.Lock()
	entry, ok := m.entries[projectID]
	if !ok {
		entry = &models.RepoCacheEntry{ProjectID: projectID, LocalPath: path}
		m.entries[projectID] = entry
	}
	entry.LastFetchedAt = time.Now()
	entry.CurrentBranch = branch
	m.mu.Unlock()

	return nil
}

// Fetch re-fetches a project's cache entry without checking out a task branch.
func (m *Manager) Fetch(ctx context.Context, projectID string) error {
	lock := m.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()
	return m.fetchAndFastForward(ctx, projectID, m.localPath(projectID))
}

// GetDefaultBranch returns the project's default branch.
func (m *Manager) GetDefaultBranch(ctx context.Context, projectID string) (string, error) {
	svc, err := git.NewGitService(m.localPath(projectID), projectID)
	if err != nil {
		return "", &runnerrors.RepoError{Kind: runnerrors.RepoCheckout, Err: err}
	}
	return svc.GetDefaultBranch(ctx)
}

// CheckoutTaskBranch checks out (creating if needed) the task branch
// for taskID/title off the default branch (§4.A, §6.4 naming;
// checkout failures are not retryable per §7).
func (m *Manager) CheckoutTaskBranch(ctx context.Context, projectID, taskID, title string) (string, error) {
	lock := m.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	path := m.localPath(projectID)
	svc, err := git.NewGitService(path, projectID)
	if err != nil {
		return "", &runnerrors.RepoError{Kind: runnerrors.RepoCheckout, Err: err}
	}
	svc.SetBranchPrefix(m.branchPrefix)

	defaultBranch, err := svc.GetDefaultBranch(ctx)
	if err != nil {
		return "", &runnerrors.RepoError{Kind: runnerrors.RepoCheckout, Err: err}
	}

	result, err := svc.CreateTaskBranch(ctx, git.CreateBranchRequest{
		TaskID:     taskID,
		Title:      title,
		BaseBranch: defaultBranch,
	})
	if err != nil {
		return "", &runnerrors.RepoError{Kind: runnerrors.RepoCheckout, Err: err}
	}

	m.mu.Lock()
	if entry, ok := m.entries[projectID]; ok {
		entry.CurrentBranch = result.BranchName
	}
	m.mu.Unlock()

	return result.BranchName, nil
}

// LocalPath returns the cached working tree path for a project without
// performing any I/O.
func (m *Manager) LocalPath(projectID string) string {
	return m.localPath(projectID)
}

// Entry returns the current cache bookkeeping entry for a project, if any.
func (m *Manager) Entry(projectID string) (*models.RepoCacheEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[projectID]
	return e, ok
}

// SweepExpired evicts cache entries whose LastFetchedAt is older than
// the TTL (§3 "TTL 7 days; daily eviction of cold entries"). It
// removes both the bookkeeping entry and the on-disk working tree.
func (m *Manager) SweepExpired(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	cutoff := time.Now().Add(-m.ttl)
	var expired []string
	for projectID, entry := range m.entries {
		if entry.LastFetchedAt.Before(cutoff) {
			expired = append(expired, projectID)
		}
	}
	m.mu.Unlock()

	var evicted []string
	for _, projectID := range expired {
		lock := m.projectLock(projectID)
		lock.Lock()
		path := m.localPath(projectID)
		if err := os.RemoveAll(path); err != nil {
			lock.Unlock()
			return evicted, fmt.Errorf("evict %s: %w", projectID, err)
		}
		m.mu.Lock()
		delete(m.entries, projectID)
		m.mu.Unlock()
		lock.Unlock()
		evicted = append(evicted, projectID)
	}
	return evicted, nil
}

// StartSweepLoop runs SweepExpired on the given period until stop is closed.
func (m *Manager) StartSweepLoop(ctx context.Context, period time.Duration, stop <-chan struct{}) {
	if period <= 0 {
		period = 24 * time.Hour
	}
	ticker := time.NewTicker(period)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = m.SweepExpired(ctx)
			}
		}
	}()
}
