package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCmd(t *testing.T) {
	t.Run("short", func(t *testing.T) {
		var out bytes.Buffer
		cmd := versionCmd()
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"--short"})

		require.NoError(t, cmd.Execute())
		assert.Equal(t, "dev", strings.TrimSpace(out.String()))
	})

	t.Run("full", func(t *testing.T) {
		var out bytes.Buffer
		cmd := versionCmd()
		cmd.SetOut(&out)
		cmd.SetArgs([]string{})

		require.NoError(t, cmd.Execute())
		assert.Contains(t, out.String(), "Version:    dev")
		assert.Contains(t, out.String(), "Go version:")
	})
}
