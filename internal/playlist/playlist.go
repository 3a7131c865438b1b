// Package playlist cycles through the animation files found in a set of
// directories.
package playlist

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

var ErrEmpty = errors.New("playlist is empty")

// DefaultBackoff is the pause after a full pass in which every entry failed.
const DefaultBackoff = time.Second

type Playlist struct {
	fsys fs.FS
	dirs []string
	ext  string
	log  zerolog.Logger

	// Clock and Backoff pace retries once every entry has failed in a row.
	Clock   clockwork.Clock
	Backoff time.Duration

	mu      sync.Mutex
	entries []string
	scanned bool
	pos     int
}

// New builds a playlist over dirs inside fsys. Directory names may be given
// as absolute host paths; they are made relative to the root of fsys.
func New(fsys fs.FS, dirs []string, ext string, log zerolog.Logger) *Playlist {
	clean := make([]string, 0, len(dirs))
	for _, d := range dirs {
		d = strings.TrimPrefix(path.Clean("/"+d), "/")
		if d == "" {
			d = "."
		}
		clean = append(clean, d)
	}
	return &Playlist{
		fsys:    fsys,
		dirs:    clean,
		ext:     ext,
		log:     log.With().Str("component", "playlist").Logger(),
		Clock:   clockwork.NewRealClock(),
		Backoff: DefaultBackoff,
	}
}

// FS is the file system entries are resolved against.
func (p *Playlist) FS() fs.FS { return p.fsys }

// Scan relists every directory. Missing directories are logged and skipped.
func (p *Playlist) Scan() []string {
	var entries []string
	for _, dir := range p.dirs {
		list, err := fs.ReadDir(p.fsys, dir)
		if err != nil {
			p.log.Warn().Err(err).Str("dir", dir).Msg("skipping playlist directory")
			continue
		}
		for _, e := range list {
			if e.IsDir() || !strings.EqualFold(path.Ext(e.Name()), p.ext) {
				continue
			}
			entries = append(entries, path.Join(dir, e.Name()))
		}
	}

	p.mu.Lock()
	p.entries = entries
	p.scanned = true
	if p.pos >= len(entries) {
		p.pos = 0
	}
	p.mu.Unlock()

	p.log.Info().Int("count", len(entries)).Strs("entries", entries).Msg("playlist scanned")
	return entries
}

func (p *Playlist) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func (p *Playlist) candidate() (string, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.entries) == 0 {
		return "", 0, ErrEmpty
	}
	name := p.entries[p.pos]
	p.pos = (p.pos + 1) % len(p.entries)
	return name, len(p.entries), nil
}

// Next hands successive entries to load until one succeeds, wrapping around
// the listing. It returns the loaded entry, ErrEmpty when nothing matches, or
// the context error.
func (p *Playlist) Next(ctx context.Context, load func(name string) error) (string, error) {
	p.mu.Lock()
	scanned := p.scanned
	p.mu.Unlock()
	if !scanned {
		p.Scan()
	}

	failed := 0
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		name, n, err := p.candidate()
		if err != nil {
			return "", err
		}
		p.log.Info().Str("entry", name).Msg("loading")
		if err := load(name); err != nil {
			p.log.Error().Err(err).Str("entry", name).Msg("load failed")
			failed++
			if failed%n == 0 && p.Backoff > 0 {
				select {
				case <-ctx.Done():
					return "", ctx.Err()
				case <-p.Clock.After(p.Backoff):
				}
			}
			continue
		}
		return name, nil
	}
}

// FileLoader is what the Loader feeds entries into; anim.Player satisfies it.
type FileLoader interface {
	LoadFile(fsys fs.FS, name string) error
}

// Loader advances the playlist off the render loop. Requests coalesce: while
// one is pending, more are dropped.
type Loader struct {
	pl     *Playlist
	target FileLoader
	log    zerolog.Logger
	reqs   chan struct{}

	mu      sync.Mutex
	current string
}

func NewLoader(pl *Playlist, target FileLoader, log zerolog.Logger) *Loader {
	return &Loader{
		pl:     pl,
		target: target,
		log:    log.With().Str("component", "loader").Logger(),
		reqs:   make(chan struct{}, 1),
	}
}

// Request asks for the next entry. It never blocks.
func (l *Loader) Request() {
	select {
	case l.reqs <- struct{}{}:
	default:
	}
}

// Current is the entry most recently loaded successfully.
func (l *Loader) Current() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

func (l *Loader) Run(ctx context.Context) error {
	l.log.Info().Msg("loader started")
	defer l.log.Info().Msg("loader stopped")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.reqs:
		}
		name, err := l.pl.Next(ctx, func(name string) error {
			return l.target.LoadFile(l.pl.FS(), name)
		})
		switch {
		case err == nil:
			l.mu.Lock()
			l.current = name
			l.mu.Unlock()
		case ctx.Err() != nil:
			return nil
		default:
			l.log.Warn().Err(fmt.Errorf("advance playlist: %w", err)).Msg("nothing to play")
		}
	}
}
