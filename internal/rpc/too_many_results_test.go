package rpc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubDataError struct {
	msg  string
	data interface{}
}

func (e *stubDataError) Error() string          { return e.msg }
func (e *stubDataError) ErrorData() interface{} { return e.data }

func TestIsTooManyResultsError(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		ok, _ := IsTooManyResultsError(nil)
		require.False(t, ok)
	})

	t.Run("plain message", func(t *testing.T) {
		ok, msg := IsTooManyResultsError(errors.New("query returned more than 10000 results"))
		require.True(t, ok)
		require.Contains(t, msg, "more than 10000 results")
	})

	t.Run("data error", func(t *testing.T) {
		err := &stubDataError{
			msg:  "query limit exceeded",
			data: "Query returned more than 20000 results. Try with this block range [0x7dfd25, 0x7e0fcc].",
		}
		ok, msg := IsTooManyResultsError(err)
		require.True(t, ok)
		require.Contains(t, msg, "[0x7dfd25, 0x7e0fcc]")
	})

	t.Run("wrapped", func(t *testing.T) {
		err := fmt.Errorf("eth_getLogs: %w", errors.New("returned more than 5000 results"))
		ok, _ := IsTooManyResultsError(err)
		require.True(t, ok)
	})

	t.Run("unrelated error", func(t *testing.T) {
		ok, _ := IsTooManyResultsError(errors.New("connection reset by peer"))
		require.False(t, ok)
	})
}

func TestParseSuggestedBlockRange(t *testing.T) {
	from, to, ok := ParseSuggestedBlockRange(
		"Query returned more than 20000 results. Try with this block range [0x7dfd25, 0x7e0fcc].")
	require.True(t, ok)
	require.Equal(t, uint64(0x7dfd25), from)
	require.Equal(t, uint64(0x7e0fcc), to)

	_, _, ok = ParseSuggestedBlockRange("query returned more than 10000 results")
	require.False(t, ok)

	_, _, ok = ParseSuggestedBlockRange("")
	require.False(t, ok)
}
