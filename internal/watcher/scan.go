package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
}

// IsImage reports whether name has an extension the inspector accepts.
func IsImage(name string) bool {
	base := filepath.Base(name)
	ext := filepath.Ext(base)
	if ext == base {
		// ".jpg" alone has no stem
		return false
	}
	_, ok := imageExtensions[strings.ToLower(ext)]
	return ok
}

// listImages returns the image file names in dir in inspection order.
func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read watch dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !IsImage(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	SortFrames(names)
	return names, nil
}

// SortFrames orders camera frames by their numeric stem. Names without a
// numeric stem sort after all numbered frames, lexically.
func SortFrames(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		ni, iok := frameNumber(names[i])
		nj, jok := frameNumber(names[j])
		switch {
		case iok && jok:
			if ni != nj {
				return ni < nj
			}
			return names[i] < names[j]
		case iok:
			return true
		case jok:
			return false
		default:
			return names[i] < names[j]
		}
	})
}

func frameNumber(name string) (uint64, bool) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	n, err := strconv.ParseUint(stem, 10, 64)
	return n, err == nil
}

// stableFiles returns the subset of paths whose size is non-zero and unchanged
// across wait, preserving order.
func stableFiles(ctx context.Context, paths []string, wait time.Duration) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	before := fileSizes(paths)

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	after := fileSizes(paths)
	var stable []string
	for _, p := range paths {
		b, bok := before[p]
		a, aok := after[p]
		if bok && aok && a == b && a > 0 {
			stable = append(stable, p)
		}
	}
	return stable, nil
}

func fileSizes(paths []string) map[string]int64 {
	sizes := make(map[string]int64, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		sizes[p] = info.Size()
	}
	return sizes
}
