// Package playlists reads playlists of the offline dump. Every playlist is an <id>.INDEX file
// whose first line holds the track count followed by one track id per line.
package playlists

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	// DumpPrefix marks playlist ids that live in the dump rather than in the catalog.
	DumpPrefix = "m_"
	indexExt   = ".INDEX"
)

// ErrNotFound is returned for a dump id without an index file.
var ErrNotFound = errors.New("playlist not found in dump")

// IsDumpID reports whether the playlist id belongs to the dump.
func IsDumpID(id string) bool {
	return strings.HasPrefix(id, DumpPrefix)
}

// Dump is a directory of playlist index files.
type Dump struct {
	Dir string
}

func (d Dump) path(id string) string {
	return filepath.Join(d.Dir, id+indexExt)
}

// TrackIDs reads the track ids of a dump playlist. Blank lines are skipped;
// a count line that disagrees with the ids that follow is an error.
func (d Dump) TrackIDs(id string) ([]string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id != filepath.Base(id) {
		return nil, fmt.Errorf("%w: invalid id %q", ErrNotFound, id)
	}
	f, err := os.Open(d.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read %s: %w", d.path(id), err)
		}
		return nil, fmt.Errorf("read %s: missing track count", d.path(id))
	}
	count, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil || count < 0 {
		return nil, fmt.Errorf("read %s: bad track count %q", d.path(id), scanner.Text())
	}

	ids := make([]string, 0, count)
	for scanner.Scan() {
		if track := strings.TrimSpace(scanner.Text()); track != "" {
			ids = append(ids, track)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", d.path(id), err)
	}
	if len(ids) != count {
		return nil, fmt.Errorf("read %s: header announces %d tracks, found %d", d.path(id), count, len(ids))
	}
	return ids, nil
}

// List returns the ids of all dump playlists in lexical order.
func (d Dump) List() ([]string, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, indexExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, indexExt))
	}
	sort.Strings(ids)
	return ids, nil
}
