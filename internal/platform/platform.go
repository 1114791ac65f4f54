// Package platform describes the host the engine runs on: its writable
// directory, control channel encoding and persisted preferences.
package platform

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrEmptyToken is returned by SetAuthToken for an empty token.
var ErrEmptyToken = errors.New("platform: auth token must not be empty")

// prefs is the on-disk preferences document.
type prefs struct {
	AuthToken string `yaml:"auth_token,omitempty"`
}

// Platform holds host paths and the preferences file.
//
// Thread-safety: all methods are safe for concurrent use.
type Platform struct {
	writableDir string
	encoding    string
	prefsPath   string
	controlPath string
	logger      *slog.Logger

	mu    sync.Mutex
	prefs prefs
}

// Option configures a Platform.
type Option func(*Platform)

func WithLogger(l *slog.Logger) Option {
	return func(p *Platform) {
		p.logger = l
	}
}

// WithPrefsPath overrides the default <dir>/prefs.yaml.
func WithPrefsPath(path string) Option {
	return func(p *Platform) {
		p.prefsPath = path
	}
}

// WithControlPath overrides the default <dir>/control.
func WithControlPath(path string) Option {
	return func(p *Platform) {
		p.controlPath = path
	}
}

// WithEncoding sets the control channel's text encoding label.
func WithEncoding(name string) Option {
	return func(p *Platform) {
		p.encoding = name
	}
}

// New creates the writable directory if needed and loads preferences.
// A missing preferences file is not an error.
func New(writableDir string, opts ...Option) (*Platform, error) {
	p := &Platform{
		writableDir: writableDir,
		encoding:    "utf-8",
		prefsPath:   filepath.Join(writableDir, "prefs.yaml"),
		controlPath: filepath.Join(writableDir, "control"),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if err := os.MkdirAll(writableDir, 0o700); err != nil {
		return nil, fmt.Errorf("platform: create %s: %w", writableDir, err)
	}
	if err := p.load(); err != nil {
		return nil, err
	}
	return p, nil
}

// WritableDir is the directory the engine owns.
func (p *Platform) WritableDir() string { return p.writableDir }

// Encoding is the control channel's text encoding label.
func (p *Platform) Encoding() string { return p.encoding }

// ControlPath is the control socket location.
func (p *Platform) ControlPath() string { return p.controlPath }

// AuthToken returns the stored token, "" when none is set.
func (p *Platform) AuthToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prefs.AuthToken
}

// SetAuthToken stores token. A token can be set once: setting the same
// token again succeeds, a different one is refused and ok is false.
func (p *Platform) SetAuthToken(token string) (ok bool, err error) {
	if token == "" {
		return false, ErrEmptyToken
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.prefs.AuthToken {
	case token:
		return true, nil
	case "":
	default:
		p.logger.Warn("refusing to replace auth token")
		return false, nil
	}

	next := p.prefs
	next.AuthToken = token
	if err := p.save(next); err != nil {
		return false, err
	}
	p.prefs = next
	p.logger.Info("auth token stored")
	return true, nil
}

func (p *Platform) load() error {
	data, err := os.ReadFile(p.prefsPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("platform: read prefs: %w", err)
	}
	if err := yaml.Unmarshal(data, &p.prefs); err != nil {
		return fmt.Errorf("platform: parse prefs %s: %w", p.prefsPath, err)
	}
	return nil
}

// save writes prefs through a temp file and rename so a crash never
// leaves a truncated file.
func (p *Platform) save(next prefs) error {
	data, err := yaml.Marshal(next)
	if err != nil {
		return fmt.Errorf("platform: marshal prefs: %w", err)
	}

	dir := filepath.Dir(p.prefsPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("platform: create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".prefs-*.tmp")
	if err != nil {
		return fmt.Errorf("platform: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("platform: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("platform: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, p.prefsPath); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("platform: rename temp file: %w", err)
	}
	return nil
}
