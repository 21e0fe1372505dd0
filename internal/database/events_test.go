package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRebind(t *testing.T) {
	got := rebind("SELECT * FROM events WHERE id = ? AND project_id = ?")
	assert.Equal(t, "SELECT * FROM events WHERE id = $1 AND project_id = $2", got)
}

func TestRebindNoPlaceholders(t *testing.T) {
	got := rebind("SELECT * FROM events")
	assert.Equal(t, "SELECT * FROM events", got)
}
