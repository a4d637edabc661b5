package pipeline

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fbarbe00/Finding-Missing-Trains/internal/model"
)

// Discover expands inputs into feeds. Each input is a directory (its *.zip
// files), a .zip archive, or a list file with one archive path per line.
// When manifest is set, its url column gives feeds their URL-derived IDs.
// Feeds are returned sorted by ID.
func Discover(inputs []string, manifest string) ([]model.Feed, error) {
	if len(inputs) == 0 {
		return nil, &model.ConfigError{Field: "inputs", Message: "no input given"}
	}

	var paths []string
	for _, in := range inputs {
		expanded, err := expandInput(in)
		if err != nil {
			return nil, err
		}
		paths = append(paths, expanded...)
	}

	urls := map[string]string{}
	if manifest != "" {
		var err error
		urls, err = ReadManifest(manifest)
		if err != nil {
			return nil, err
		}
	}

	// Deduplicate paths
	seen := make(map[string]bool)
	var unique []string
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = filepath.Clean(p)
		}
		if !seen[abs] {
			seen[abs] = true
			unique = append(unique, abs)
		}
	}
	sort.Strings(unique)

	feeds := make([]model.Feed, 0, len(unique))
	for _, p := range unique {
		f := model.Feed{Path: p, Size: -1}
		if info, err := os.Stat(p); err == nil {
			f.Size = info.Size()
		}

		url, ok := urls[p]
		if !ok {
			url = urls[filepath.Base(p)]
		}
		if url != "" {
			f.SourceURL = url
			f.ID = model.FeedIDFromURL(url)
		} else {
			f.ID = model.FeedIDFromPath(p)
		}
		feeds = append(feeds, f)
	}
	assignUniqueIDs(feeds)

	sort.Slice(feeds, func(i, j int) bool { return feeds[i].ID < feeds[j].ID })
	return feeds, nil
}

// assignUniqueIDs suffixes repeated IDs in path order. Suffixes skip every
// ID already taken, including natural IDs such as a real "x-2" stem.
func assignUniqueIDs(feeds []model.Feed) {
	taken := make(map[string]bool, len(feeds))
	for _, f := range feeds {
		taken[f.ID] = true
	}
	first := make(map[string]bool, len(feeds))
	for i := range feeds {
		id := feeds[i].ID
		if !first[id] {
			first[id] = true
			continue
		}
		n := 2
		for taken[fmt.Sprintf("%s-%d", id, n)] {
			n++
		}
		feeds[i].ID = fmt.Sprintf("%s-%d", id, n)
		taken[feeds[i].ID] = true
	}
}

func expandInput(in string) ([]string, error) {
	info, err := os.Stat(in)
	if err != nil {
		return nil, &model.ConfigError{Field: "inputs", Message: fmt.Sprintf("%s: %v", in, err)}
	}

	if info.IsDir() {
		entries, err := os.ReadDir(in)
		if err != nil {
			return nil, fmt.Errorf("read dir %s: %w", in, err)
		}
		var out []string
		for _, e := range entries {
			if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".zip") {
				out = append(out, filepath.Join(in, e.Name()))
			}
		}
		return out, nil
	}

	if strings.EqualFold(filepath.Ext(in), ".zip") {
		return []string{in}, nil
	}
	return ReadListFile(in)
}

// ReadListFile reads archive paths from a file (one per line)
func ReadListFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var paths []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Deduplicate paths
		if !seen[line] {
			seen[line] = true
			paths = append(paths, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return paths, nil
}

// ReadManifest reads the downloader's log: a CSV with url and file_path
// columns. The result maps both the absolute path and the base name of
// each file to its URL. Rows without a file_path are ignored.
func ReadManifest(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &model.ConfigError{Field: "manifest", Message: err.Error()}
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, &model.ConfigError{Field: "manifest", Message: fmt.Sprintf("read header: %v", err)}
	}
	urlCol, pathCol := -1, -1
	for i, c := range header {
		switch strings.TrimSpace(strings.TrimPrefix(c, "\uFEFF")) {
		case "url":
			urlCol = i
		case "file_path":
			pathCol = i
		}
	}
	if urlCol < 0 || pathCol < 0 {
		return nil, &model.ConfigError{Field: "manifest", Message: "need url and file_path columns"}
	}

	out := make(map[string]string)
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &model.ConfigError{Field: "manifest", Message: err.Error()}
		}
		if urlCol >= len(rec) || pathCol >= len(rec) {
			continue
		}
		url, p := strings.TrimSpace(rec[urlCol]), strings.TrimSpace(rec[pathCol])
		if url == "" || p == "" {
			continue
		}
		if abs, err := filepath.Abs(p); err == nil {
			out[abs] = url
		}
		out[filepath.Base(p)] = url
	}
	return out, nil
}
