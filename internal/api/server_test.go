package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPathSuffixExtractsProjectID(t *testing.T) {
	got := pathSuffix("/api/devteam/automation/status/org/repo", "/api/devteam/automation/status")
	assert.Equal(t, "org/repo", got)
}

func TestPathSuffixEmptyWhenNoTrailer(t *testing.T) {
	got := pathSuffix("/api/devteam/automation/status/", "/api/devteam/automation/status")
	assert.Equal(t, "", got)
}
