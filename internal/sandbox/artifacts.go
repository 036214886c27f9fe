package sandbox

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// artifactCollector watches the scratch directory while generated code runs
// and preserves any auxiliary files it drops (screenshots, debug logs). The
// scratch directory itself is deleted on every exit path, so artifacts are
// copied out before cleanup.
type artifactCollector struct {
	scratchDir string
	destDir    string
	watcher    *fsnotify.Watcher

	mu    sync.Mutex
	names map[string]struct{}
	done  chan struct{}
}

func newArtifactCollector(scratchDir, destDir string) (*artifactCollector, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create artifact watcher: %w", err)
	}
	if err := watcher.Add(scratchDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch scratch dir: %w", err)
	}

	c := &artifactCollector{
		scratchDir: scratchDir,
		destDir:    destDir,
		watcher:    watcher,
		names:      make(map[string]struct{}),
		done:       make(chan struct{}),
	}
	go c.loop()
	return c, nil
}

func (c *artifactCollector) loop() {
	defer close(c.done)
	for {
		select {
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write) {
				c.mu.Lock()
				c.names[filepath.Base(ev.Name)] = struct{}{}
				c.mu.Unlock()
			}
		case _, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			// Watch errors only degrade collection; the final scan in
			// Collect still picks up whatever is left on disk.
		}
	}
}

// Collect stops watching, merges a final directory scan with the watched
// names, and copies everything except the excluded files into destDir.
// Returns the preserved artifact paths.
func (c *artifactCollector) Collect(exclude ...string) []string {
	c.watcher.Close()
	<-c.done

	excluded := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		excluded[name] = struct{}{}
	}

	// Final scan catches files written between the last event and shutdown.
	if entries, err := os.ReadDir(c.scratchDir); err == nil {
		c.mu.Lock()
		for _, e := range entries {
			if !e.IsDir() {
				c.names[e.Name()] = struct{}{}
			}
		}
		c.mu.Unlock()
	}

	var refs []string
	c.mu.Lock()
	defer c.mu.Unlock()
	for name := range c.names {
		if _, skip := excluded[name]; skip {
			continue
		}
		src := filepath.Join(c.scratchDir, name)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		dst := filepath.Join(c.destDir, name)
		if err := copyFile(src, dst); err != nil {
			continue
		}
		refs = append(refs, dst)
	}
	sort.Strings(refs)
	return refs
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
