package main

import (
	"testing"

	"github.com/smallbiznis/stockline/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterSnowflakeUsesConfiguredNode(t *testing.T) {
	first, err := RegisterSnowflake(config.Config{SnowflakeNode: 3})
	require.NoError(t, err)
	second, err := RegisterSnowflake(config.Config{SnowflakeNode: 4})
	require.NoError(t, err)

	a, b := first.Generate(), second.Generate()
	assert.Equal(t, int64(3), a.Node())
	assert.Equal(t, int64(4), b.Node())
	assert.NotEqual(t, a, b)

	_, err = RegisterSnowflake(config.Config{SnowflakeNode: 1024})
	assert.Error(t, err)
}
