package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetServerPort(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		t.Setenv("PORT", "")
		assert.Equal(t, 3001, GetServerPort(3001))
	})

	t.Run("from env", func(t *testing.T) {
		t.Setenv("PORT", "8080")
		assert.Equal(t, 8080, GetServerPort(3001))
	})

	t.Run("invalid panics", func(t *testing.T) {
		t.Setenv("PORT", "abc")
		assert.Panics(t, func() { GetServerPort(3001) })
	})
}

func TestGetServerHost(t *testing.T) {
	t.Setenv("HOST", "")
	assert.Equal(t, "0.0.0.0", GetServerHost("0.0.0.0"))

	t.Setenv("HOST", "127.0.0.1")
	assert.Equal(t, "127.0.0.1", GetServerHost("0.0.0.0"))
	assert.Equal(t, "127.0.0.1:3000", HostPort(GetServerHost("0.0.0.0"), 3000))
}
