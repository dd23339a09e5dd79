package playlists

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeIndex(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestTrackIDs(t *testing.T) {
	dir := t.TempDir()
	writeIndex(t, dir, "m_1.INDEX", "3\nid1\r\nid2  \n\nid3\n")
	dump := Dump{Dir: dir}

	ids, err := dump.TrackIDs("m_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"id1", "id2", "id3"}, ids)
}

func TestTrackIDsErrors(t *testing.T) {
	dir := t.TempDir()
	writeIndex(t, dir, "m_short.INDEX", "3\nid1\n")
	writeIndex(t, dir, "m_empty.INDEX", "")
	writeIndex(t, dir, "m_header.INDEX", "many\nid1\n")
	dump := Dump{Dir: dir}

	_, err := dump.TrackIDs("m_absent")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = dump.TrackIDs("../m_1")
	assert.ErrorIs(t, err, ErrNotFound)

	for _, id := range []string{"m_short", "m_empty", "m_header"} {
		_, err := dump.TrackIDs(id)
		assert.Error(t, err, id)
		assert.NotErrorIs(t, err, ErrNotFound, id)
	}
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	writeIndex(t, dir, "m_2.INDEX", "0\n")
	writeIndex(t, dir, "m_10.INDEX", "0\n")
	writeIndex(t, dir, "notes.txt", "")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.INDEX"), 0o755))

	ids, err := Dump{Dir: dir}.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"m_10", "m_2"}, ids)
}

func TestIsDumpID(t *testing.T) {
	assert.True(t, IsDumpID("m_123"))
	assert.False(t, IsDumpID("37i9dQZF1DXcBWIGoYBM5M"))
	assert.False(t, IsDumpID("m"))
}
