package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigure(t *testing.T) {
	cmd := Configure()

	require.NotNil(t, cmd)
	assert.Equal(t, "configure", cmd.Use)
	assert.NotNil(t, cmd.RunE)
}

func TestConfigure_Flags(t *testing.T) {
	cmd := Configure()

	for _, name := range []string{"profile", "region", "repo", "bucket", "sse"} {
		flag := cmd.Flags().Lookup(name)
		require.NotNil(t, flag, "%s flag should exist", name)
		assert.Equal(t, "", flag.DefValue)
	}
}
