package messagebus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "devteam.events.project-a", subject("project-a"))
}

func TestPrefixConsumer(t *testing.T) {
	q := &Queue{}
	assert.Equal(t, "worker-project-a", q.prefixConsumer("worker-project-a"))

	q.consumerPrefix = "test"
	assert.Equal(t, "test-worker-project-a", q.prefixConsumer("worker-project-a"))
}
