package workspace

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/cigate/internal/repo"
	"github.com/felixgeelhaar/cigate/internal/repo/repotest"
)

func statusLines(t *testing.T, dir string) []string {
	t.Helper()
	r, err := repo.OpenAt(dir)
	require.NoError(t, err)
	st, err := r.Status()
	require.NoError(t, err)
	out := make([]string, 0, len(st.Entries))
	for _, e := range st.Entries {
		out = append(out, e.String())
	}
	return out
}

func write(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestProvisionCopiesCheckout(t *testing.T) {
	src := repotest.Init(t, map[string]string{
		"setup.py":        "",
		".gitignore":      "build/\n*.pyc\n.cigate/\n",
		"pkg/__init__.py": "",
		"bin/run.sh":      "#!/bin/sh\n",
	})
	require.NoError(t, os.Chmod(filepath.Join(src, "bin", "run.sh"), 0o755))
	write(t, filepath.Join(src, "build", "lib", "pkg.py"), "x")
	write(t, filepath.Join(src, "pkg", "mod.pyc"), "x")
	write(t, filepath.Join(src, "notes.txt"), "untracked")
	write(t, filepath.Join(src, "README.md"), "edited")
	write(t, filepath.Join(src, ".cigate", "runs", "r1", "pytest.json"), "{}")
	require.NoError(t, os.Symlink("setup.py", filepath.Join(src, "link.py")))

	m := &Manager{Root: filepath.Join(src, ".cigate", "work"), Skip: []string{filepath.Join(src, ".cigate")}}
	dir, release, err := m.Provision(context.Background(), src, "run-1", "test (3.8)")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(src, ".cigate", "work", "run-1", "test-3.8"), dir)

	assert.FileExists(t, filepath.Join(dir, "setup.py"))
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
	assert.NoDirExists(t, filepath.Join(dir, "build"))
	assert.NoFileExists(t, filepath.Join(dir, "pkg", "mod.pyc"))
	assert.NoDirExists(t, filepath.Join(dir, ".cigate"))

	info, err := os.Stat(filepath.Join(dir, "bin", "run.sh"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	link, err := os.Readlink(filepath.Join(dir, "link.py"))
	require.NoError(t, err)
	assert.Equal(t, "setup.py", link)

	assert.Equal(t, statusLines(t, src), statusLines(t, dir))

	release()
	assert.NoDirExists(t, dir)
	assert.NoDirExists(t, filepath.Join(src, ".cigate", "work", "run-1"))
}

func TestProvisionKeepsIgnoredTrackedFiles(t *testing.T) {
	src := repotest.Init(t, map[string]string{
		"vendor/lib.py": "tracked",
	})
	write(t, filepath.Join(src, ".gitignore"), "vendor/\n")

	m := &Manager{Root: t.TempDir()}
	dir, release, err := m.Provision(context.Background(), src, "run-1", "dist")
	require.NoError(t, err)
	defer release()

	assert.FileExists(t, filepath.Join(dir, "vendor", "lib.py"))
}

func TestProvisionPlainDirectory(t *testing.T) {
	src := t.TempDir()
	write(t, filepath.Join(src, "setup.py"), "")
	write(t, filepath.Join(src, "state", "history.db"), "")

	m := &Manager{Root: t.TempDir(), Skip: []string{filepath.Join(src, "state")}}
	dir, release, err := m.Provision(context.Background(), src, "run-1", "dist")
	require.NoError(t, err)
	defer release()

	assert.FileExists(t, filepath.Join(dir, "setup.py"))
	assert.NoDirExists(t, filepath.Join(dir, "state"))
}

func TestProvisionCancelled(t *testing.T) {
	src := repotest.Init(t, map[string]string{"setup.py": ""})
	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := &Manager{Root: root}
	_, _, err := m.Provision(ctx, src, "run-1", "dist")
	require.Error(t, err)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// A dist build and a pytest run side by side: neither sees the other's
// output and both trees keep the source's status.
func TestConcurrentInstancesAreIsolated(t *testing.T) {
	src := repotest.Init(t, map[string]string{"setup.py": "", ".gitignore": "dist/\n"})
	m := &Manager{Root: t.TempDir()}

	jobs := map[string]string{
		"dist":       filepath.Join("dist", "pkg-0.1.tar.gz"),
		"test (3.8)": "coverage.xml",
	}
	dirs := map[string]string{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, artifact := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dir, release, err := m.Provision(context.Background(), src, "run-1", name)
			if !assert.NoError(t, err) {
				return
			}
			t.Cleanup(release)
			path := filepath.Join(dir, artifact)
			assert.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
			assert.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
			mu.Lock()
			dirs[name] = dir
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, dirs, 2)

	assert.NoFileExists(t, filepath.Join(dirs["dist"], "coverage.xml"))
	assert.NoDirExists(t, filepath.Join(dirs["test (3.8)"], "dist"))
	assert.Equal(t, []string{"?? coverage.xml"}, statusLines(t, dirs["test (3.8)"]))
	assert.Empty(t, statusLines(t, dirs["dist"]))
	assert.Empty(t, statusLines(t, src))
}

func TestDirName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"test (3.8)", "test-3.8"},
		{"dist", "dist"},
		{"a/b", "a-b"},
		{"()", "job"},
		{"0b9e-41", "0b9e-41"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, DirName(tt.in))
		})
	}
}
