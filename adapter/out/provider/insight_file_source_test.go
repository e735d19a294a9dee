package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeExport(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "messages.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFileSourceArray(t *testing.T) {
	path := writeExport(t, `[
		{"id": "a", "internalDate": "1710400000000", "payload": {"mimeType": "text/plain"}},
		{"id": "b", "internalDate": "1700000000000"},
		{"id": "c"}
	]`)

	msgs, err := NewFileSource(path).FetchAllSince(context.Background(), 24*time.Hour)
	require.NoError(t, err)

	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].ID)
	assert.Equal(t, "text/plain", msgs[0].Payload.MimeType)
	assert.Equal(t, "c", msgs[1].ID, "undated messages are kept")
}

func TestFileSourceWrappedObject(t *testing.T) {
	path := writeExport(t, `{"messages": [{"id": "a"}, null, {"id": "b"}]}`)

	msgs, err := NewFileSource(path).FetchAllSince(context.Background(), 0)
	require.NoError(t, err)

	require.Len(t, msgs, 2)
	assert.Equal(t, "b", msgs[1].ID)
}

func TestFileSourceErrors(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "missing.json")).FetchAllSince(context.Background(), time.Hour)
	assert.Error(t, err)

	_, err = NewFileSource(writeExport(t, `{not json`)).FetchAllSince(context.Background(), time.Hour)
	assert.Error(t, err)

	msgs, err := NewFileSource(writeExport(t, "  ")).FetchAllSince(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
