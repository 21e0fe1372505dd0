package build

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewVerifierDefaultsTimeout(t *testing.T) {
	v := NewVerifier(nil, 0)
	assert.Equal(t, DefaultTimeout, v.timeout)
}

func TestNewVerifierPreservesTimeout(t *testing.T) {
	v := NewVerifier(nil, 10*time.Second)
	assert.Equal(t, 10*time.Second, v.timeout)
}

func TestParsePorcelainFiles(t *testing.T) {
	porcelain := " M src/config.js\n?? new_file.go\nR  old.go -> new.go\n"
	files := parsePorcelainFiles(porcelain)
	assert.Equal(t, []string{"src/config.js", "new_file.go", "new.go"}, files)
}

func TestParsePorcelainFilesIgnoresShortLines(t *testing.T) {
	assert.Empty(t, parsePorcelainFiles("\n \nM"))
}

func TestTruncateKeepsTail(t *testing.T) {
	assert.Equal(t, "world", truncate("hello world", 5))
	assert.Equal(t, "short", truncate("short", 10))
}

func TestSlugReplacesSeparators(t *testing.T) {
	assert.Equal(t, "npm_run_build", slug("npm run build"))
	assert.Equal(t, "npm_ci", slug("npm ci"))
}
