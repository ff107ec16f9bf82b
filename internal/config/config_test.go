package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvideReadsSnowflakeNode(t *testing.T) {
	t.Setenv("SNOWFLAKE_NODE", "17")

	cfg, err := Provide()
	require.NoError(t, err)
	assert.Equal(t, int64(17), cfg.SnowflakeNode)
}

func TestProvideRejectsInvalidSettings(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		msg  string
	}{
		{name: "node_negative", env: map[string]string{"SNOWFLAKE_NODE": "-1"}, msg: "SNOWFLAKE_NODE"},
		{name: "node_too_large", env: map[string]string{"SNOWFLAKE_NODE": "1024"}, msg: "SNOWFLAKE_NODE"},
		{
			name: "diagnostics_timeout_equal",
			env:  map[string]string{"DIAGNOSTICS_TIMEOUT": "30s", "DISPATCHER_ITEM_TIMEOUT": "30s"},
			msg:  "DIAGNOSTICS_TIMEOUT",
		},
		{
			name: "diagnostics_timeout_longer",
			env:  map[string]string{"DIAGNOSTICS_TIMEOUT": "90s"},
			msg:  "DIAGNOSTICS_TIMEOUT",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Provide()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestValidateAcceptsBoundaries(t *testing.T) {
	cfg := Config{SnowflakeNode: 1023}
	cfg.Diagnostics.Timeout = 59 * time.Second
	cfg.Dispatcher.ItemTimeout = time.Minute
	assert.NoError(t, cfg.Validate())

	cfg.SnowflakeNode = 0
	cfg.Diagnostics.Timeout = 0
	assert.NoError(t, cfg.Validate())
}
