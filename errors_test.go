package efsw

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCodeString(t *testing.T) {
	cases := []struct {
		code ErrorCode
		want string
	}{
		{NoError, "NoError"},
		{FileNotFound, "FileNotFound"},
		{FileRepeated, "FileRepeated"},
		{FileOutOfScope, "FileOutOfScope"},
		{FileNotReadable, "FileNotReadable"},
		{FileRemote, "FileRemote"},
		{WatcherFailed, "WatcherFailed"},
		{Unspecified, "Unspecified"},
		{ErrorCode(-100), "Unspecified"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.code.String())
		assert.Equal(t, c.want, c.code.Error())
	}
}

func TestLastErrorSlotIsProcessWide(t *testing.T) {
	Errors.ClearLastError()
	require.Equal(t, NoError, Errors.LastErrorCode())
	require.Equal(t, "", Errors.LastErrorLog())

	got := setLastError(FileNotFound, "/tmp/missing: no such file")
	require.Equal(t, FileNotFound, got)
	assert.Equal(t, FileNotFound, Errors.LastErrorCode())
	assert.Equal(t, "/tmp/missing: no such file", Errors.LastErrorLog())

	Errors.ClearLastError()
	assert.Equal(t, NoError, Errors.LastErrorCode())
	assert.Equal(t, "", Errors.LastErrorLog())
}
