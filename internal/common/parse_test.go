package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseUint64orHex(t *testing.T) {
	t.Parallel()

	decimal := "1234"
	got, err := ParseUint64orHex(&decimal)
	require.NoError(t, err)
	require.Equal(t, uint64(1234), got)

	hex := "0x7dfd25"
	got, err = ParseUint64orHex(&hex)
	require.NoError(t, err)
	require.Equal(t, uint64(0x7dfd25), got)

	got, err = ParseUint64orHex(nil)
	require.NoError(t, err)
	require.Zero(t, got)

	bad := "xyz"
	_, err = ParseUint64orHex(&bad)
	require.Error(t, err)
}

func TestToLowerWithTrim(t *testing.T) {
	t.Parallel()

	require.Equal(t, "debug", ToLowerWithTrim("  DEBUG "))
	require.Equal(t, "", ToLowerWithTrim("   "))
}

func TestSplitAndTrim(t *testing.T) {
	t.Parallel()

	require.Equal(t,
		[]string{"http://a:8545", "http://b:8545"},
		SplitAndTrim(" http://a:8545 , http://b:8545 ,, "))
	require.Empty(t, SplitAndTrim("  ,  "))
}

func TestBytesToMB(t *testing.T) {
	t.Parallel()

	require.Equal(t, uint64(0), BytesToMB(1024*1024-1))
	require.Equal(t, uint64(5), BytesToMB(5*1024*1024))
}
