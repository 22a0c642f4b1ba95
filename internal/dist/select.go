package dist

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/felixgeelhaar/cigate/internal/errors"
)

// Entry is a file in the distribution output directory.
type Entry struct {
	Name    string
	ModTime time.Time
}

// ListEntries returns the regular files in dir.
func ListEntries(dir string) ([]Entry, error) {
	infos, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDistNoArtifact, fmt.Sprintf("failed to read %s", dir), err)
	}

	entries := make([]Entry, 0, len(infos))
	for _, de := range infos {
		if !de.Type().IsRegular() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{Name: de.Name(), ModTime: info.ModTime()})
	}
	return entries, nil
}

// SelectLatest picks the most recently modified entry whose name matches
// the glob pattern. Equal modification times are broken by the
// lexicographically greatest name, so the choice never depends on input
// order.
func SelectLatest(entries []Entry, pattern string) (Entry, error) {
	var (
		best  Entry
		found bool
	)
	for _, e := range entries {
		ok, err := path.Match(pattern, e.Name)
		if err != nil {
			return Entry{}, errors.Wrap(errors.ErrCodeConfigInvalid, fmt.Sprintf("invalid dist pattern %q", pattern), err)
		}
		if !ok {
			continue
		}
		if !found || e.ModTime.After(best.ModTime) || (e.ModTime.Equal(best.ModTime) && e.Name > best.Name) {
			best = e
			found = true
		}
	}

	if !found {
		return Entry{}, errors.New(errors.ErrCodeDistNoArtifact,
			fmt.Sprintf("no distribution archive matches %q", pattern)).
			WithSuggestion("Check that the build step wrote an sdist into the output directory").
			WithSuggestion("Set dist.pattern in .cigate/config.yaml if the archive name differs from the package name")
	}
	return best, nil
}

// SelectLatestIn lists dir and selects the newest matching archive,
// returning its path joined with dir.
func SelectLatestIn(dir, pattern string) (string, error) {
	entries, err := ListEntries(dir)
	if err != nil {
		return "", err
	}
	e, err := SelectLatest(entries, pattern)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, e.Name), nil
}
