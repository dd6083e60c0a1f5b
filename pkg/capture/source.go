// Package capture acquires microphone audio and feeds it, in fixed-size
// blocks, into a live session.
//
// A [Source] is one audio input backend. Backends register themselves by name
// so the active one can be selected from configuration; the mock backend is
// always available for tests and headless environments.
package capture

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aquilesboica/ia-teacher/pkg/audio"
)

// Config describes how a Source should open its device.
type Config struct {
	// Device is the backend-specific device identifier. Empty selects the
	// backend default.
	Device string

	// SampleRate is the capture rate in Hz. Zero selects the backend
	// default.
	SampleRate int

	// Channels is the capture channel count. Zero selects the backend
	// default.
	Channels int
}

// Source is one microphone backend. Implementations deliver captured frames
// on the Frames channel between Start and Stop.
type Source interface {
	// Start begins capturing. Frames are delivered until Stop is called or
	// ctx is cancelled.
	Start(ctx context.Context) error

	// Stop halts capture. The Frames channel is closed once the backend has
	// drained. Idempotent.
	Stop() error

	// Frames returns the channel of captured audio frames.
	Frames() <-chan audio.AudioFrame

	// Config returns the effective configuration after defaults were
	// applied.
	Config() Config

	// Name identifies the backend (e.g. "mock").
	Name() string

	// Close releases the device. The source cannot be restarted afterwards.
	Close() error
}

// Factory constructs a Source from a Config.
type Factory func(cfg Config) (Source, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// RegisterBackend makes a Source backend available under the given name.
// Panics if the name is already taken.
func RegisterBackend(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if _, dup := factories[name]; dup {
		panic(fmt.Sprintf("capture: backend %q registered twice", name))
	}
	factories[name] = f
}

// NewSource opens a Source using the backend registered under name.
func NewSource(name string, cfg Config) (Source, error) {
	factoriesMu.RLock()
	f, ok := factories[name]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("capture: unknown backend %q (available: %v)", name, Backends())
	}
	return f(cfg)
}

// Backends lists the registered backend names, sorted.
func Backends() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
