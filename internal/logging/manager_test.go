package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetMetaStringPrefersFirstPresentKey(t *testing.T) {
	meta := map[string]interface{}{"executionId": "exec-1"}
	assert.Equal(t, "exec-1", getMetaString(meta, "execution_id", "executionId"))
}

func TestGetMetaStringPrefersSnakeCaseWhenBothPresent(t *testing.T) {
	meta := map[string]interface{}{
		"execution_id": "snake-1",
		"executionId":  "camel-1",
	}
	assert.Equal(t, "snake-1", getMetaString(meta, "execution_id", "executionId"))
}

func TestGetMetaStringReturnsEmptyWhenAbsent(t *testing.T) {
	assert.Equal(t, "", getMetaString(map[string]interface{}{}, "execution_id", "executionId"))
}

func TestGetMetaStringIgnoresNonStringValues(t *testing.T) {
	meta := map[string]interface{}{"execution_id": 42}
	assert.Equal(t, "", getMetaString(meta, "execution_id"))
}

func TestNullableConvertsEmptyStringToNil(t *testing.T) {
	assert.Nil(t, nullable(""))
	assert.Equal(t, "x", nullable("x"))
}

func TestRebindQueryConvertsPlaceholders(t *testing.T) {
	got := rebindQuery("INSERT INTO logs (id, level) VALUES (?, ?)")
	assert.Equal(t, "INSERT INTO logs (id, level) VALUES ($1, $2)", got)
}

func TestLogWithNilDBDoesNotPanic(t *testing.T) {
	m := &Manager{}
	m.Error("executor", "tool failed", map[string]interface{}{
		"execution_id":  "exec-9",
		"correlationId": "corr-9",
	})
}
