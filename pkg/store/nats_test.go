package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultNATSConfig(t *testing.T) {
	cfg := DefaultNATSConfig()
	assert.Equal(t, "courtroom", cfg.Bucket)
	assert.NotEmpty(t, cfg.Description)
}

func TestNewNATSStore_RequiresConnection(t *testing.T) {
	_, err := NewNATSStore(nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nats connection is required")
}
