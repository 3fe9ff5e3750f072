package testutil

import (
	"fmt"
	"sync"
)

// FakeLinker is an in-memory mirror.Linker. It records every link as a
// target->source entry and supports injecting per-path failures.
type FakeLinker struct {
	mu     sync.Mutex
	links  map[string]string
	failOn map[string]error
}

// NewFakeLinker creates an empty fake linker.
func NewFakeLinker() *FakeLinker {
	return &FakeLinker{
		links:  make(map[string]string),
		failOn: make(map[string]error),
	}
}

// FailOn makes Link return err when called with the given source path.
// Inject fs.ErrNotExist to simulate a missing source file.
func (l *FakeLinker) FailOn(sourcePath string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failOn[sourcePath] = err
}

func (l *FakeLinker) Link(sourcePath, targetPath string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err, ok := l.failOn[sourcePath]; ok {
		return fmt.Errorf("linking %s: %w", sourcePath, err)
	}
	if _, ok := l.links[targetPath]; ok {
		return nil
	}
	l.links[targetPath] = sourcePath
	return nil
}

func (l *FakeLinker) Unlink(targetPath string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.links, targetPath)
	return nil
}

// Linked reports whether targetPath currently has a link.
func (l *FakeLinker) Linked(targetPath string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.links[targetPath]
	return ok
}

// LinkCount returns the number of live links.
func (l *FakeLinker) LinkCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.links)
}

// SourceOf returns the source a target is linked to.
func (l *FakeLinker) SourceOf(targetPath string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.links[targetPath]
	return s, ok
}
