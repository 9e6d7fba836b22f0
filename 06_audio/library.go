package audio

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Library picks background tracks from a local folder described by a tags
// file: {"file.mp3": ["calm", "news"], ...}.
type Library struct {
	dir  string
	tags map[string][]string
}

// NewLibrary loads the tags file. A missing file yields an empty library.
func NewLibrary(dir, tagsPath string) *Library {
	return &Library{dir: dir, tags: loadTags(tagsPath)}
}

func (l *Library) Name() string { return "library" }

// Search returns the path of a track tagged with term, else any track that
// exists on disk, else "".
func (l *Library) Search(_ context.Context, term string) (string, error) {
	files := make([]string, 0, len(l.tags))
	for f := range l.tags {
		files = append(files, f)
	}
	sort.Strings(files)

	term = strings.ToLower(strings.TrimSpace(term))
	for _, f := range files {
		for _, tag := range l.tags[f] {
			if strings.ToLower(tag) == term && l.exists(f) {
				return filepath.Join(l.dir, f), nil
			}
		}
	}
	for _, f := range files {
		if l.exists(f) {
			return filepath.Join(l.dir, f), nil
		}
	}
	return "", nil
}

func (l *Library) exists(file string) bool {
	_, err := os.Stat(filepath.Join(l.dir, file))
	return err == nil
}

func loadTags(path string) map[string][]string {
	tags := make(map[string][]string)
	data, err := os.ReadFile(path)
	if err != nil {
		return tags
	}
	_ = json.Unmarshal(data, &tags)
	return tags
}
