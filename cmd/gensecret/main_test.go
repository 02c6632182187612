package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_newSecret(t *testing.T) {
	first, err := newSecret(32)
	require.NoError(t, err)
	require.Len(t, first, 64, "hex encoded")

	second, err := newSecret(32)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	_, err = newSecret(8)
	require.Error(t, err)
}
