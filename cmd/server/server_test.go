package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"config", "--filler", "random", "--rate", "5", "-l", "127.0.0.1:7000"})
	require.NoError(t, rootCmd.Execute())

	s := out.String()
	require.Contains(t, s, "listen: 127.0.0.1:7000")
	require.Contains(t, s, "filler: random")
	require.Contains(t, s, "rate: 5")
	require.Contains(t, s, "pace: 0s")
}
