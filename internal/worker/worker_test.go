package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDefaultsGlobalConcurrency(t *testing.T) {
	w := New(nil, nil, nil, nil, nil, nil, 0)
	assert.Equal(t, 5, cap(w.sem))
}

func TestNewHonorsExplicitGlobalConcurrency(t *testing.T) {
	w := New(nil, nil, nil, nil, nil, nil, 3)
	assert.Equal(t, 3, cap(w.sem))
}

func TestEnsureSubscribedIsIdempotentBookkeeping(t *testing.T) {
	w := New(nil, nil, nil, nil, nil, nil, 1)
	w.subscribed["org/repo"] = true
	// With Queue nil, a second EnsureSubscribed call for an already
	// subscribed project must not attempt to touch the queue.
	assert.NoError(t, w.EnsureSubscribed("org/repo"))
}
