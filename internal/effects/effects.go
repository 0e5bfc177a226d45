// Package effects plays the sound reactions chosen by the command
// interpreter: a random clip from a directory for a time judgement, and a
// looping clip while crying.
package effects

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ErrNoSounds is returned when a sound directory holds no playable file.
var ErrNoSounds = errors.New("effects: no sound files")

// Player plays sound effects. Implementations must be safe for concurrent
// use and must not block on playback.
type Player interface {
	// PlayRandom starts playing one randomly chosen file from dir.
	PlayRandom(dir string) error

	// StartLoop plays file repeatedly until StopLoop. Starting while a loop
	// is playing replaces it.
	StartLoop(file string) error

	// StopLoop stops the loop started by StartLoop, if any.
	StopLoop()

	// Close stops all playback and releases the output device.
	Close() error
}

// Nop is a [Player] that plays nothing. It is used when effects are disabled.
type Nop struct{}

func (Nop) PlayRandom(string) error { return nil }
func (Nop) StartLoop(string) error  { return nil }
func (Nop) StopLoop()               {}
func (Nop) Close() error            { return nil }

var _ Player = Nop{}

// playable lists the extensions the beep player decodes.
var playable = []string{".wav", ".mp3"}

// pickFile returns a random playable regular file from dir. Hidden files and
// subdirectories are skipped.
func pickFile(dir string, intn func(int) int) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("effects: read %q: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, ".") {
			continue
		}
		if !slices.Contains(playable, strings.ToLower(filepath.Ext(name))) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	if len(files) == 0 {
		return "", fmt.Errorf("%w in %q", ErrNoSounds, dir)
	}
	if intn == nil {
		intn = rand.IntN
	}
	return files[intn(len(files))], nil
}
