// Package file keeps credential flags and profile snapshots in a single YAML
// state file. It backs the CLI client context, where no server-side store exists.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/porthorian/dashauth/pkg/cache"
	"github.com/porthorian/dashauth/pkg/storage"
	"gopkg.in/yaml.v3"
)

var ErrMissingPath = errors.New("file store: path is required")

type flagDocument struct {
	SetAt     time.Time `yaml:"set_at"`
	ExpiresAt time.Time `yaml:"expires_at"`
}

type profileDocument struct {
	Profile   cache.ProfileSnapshot `yaml:"profile"`
	ExpiresAt time.Time             `yaml:"expires_at"`
}

type stateDocument struct {
	Flags    map[string]flagDocument    `yaml:"flags,omitempty"`
	Profiles map[string]profileDocument `yaml:"profiles,omitempty"`
}

type Adapter struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

var _ storage.FlagStore = (*Adapter)(nil)
var _ cache.ProfileCache = (*Adapter)(nil)

func NewAdapter(path string) (*Adapter, error) {
	if path == "" {
		return nil, ErrMissingPath
	}
	return &Adapter{path: path, now: time.Now}, nil
}

func (a *Adapter) Path() string {
	return a.path
}

func (a *Adapter) PutFlag(ctx context.Context, record storage.FlagRecord) error {
	now := a.now().UTC()
	if err := record.Validate(now); err != nil {
		return err
	}

	return a.update(func(doc *stateDocument) {
		doc.Flags[record.Key] = flagDocument{SetAt: record.SetAt.UTC(), ExpiresAt: record.ExpiresAt.UTC()}
	})
}

func (a *Adapter) GetFlag(ctx context.Context, key string) (storage.FlagRecord, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	doc, err := a.load()
	if err != nil {
		return storage.FlagRecord{}, false, err
	}

	entry, ok := doc.Flags[key]
	if !ok {
		return storage.FlagRecord{}, false, nil
	}

	record := storage.FlagRecord{Key: key, SetAt: entry.SetAt, ExpiresAt: entry.ExpiresAt}
	if !record.Active(a.now().UTC()) {
		return storage.FlagRecord{}, false, nil
	}
	return record, true, nil
}

func (a *Adapter) DeleteFlag(ctx context.Context, key string) error {
	return a.update(func(doc *stateDocument) {
		delete(doc.Flags, key)
	})
}

func (a *Adapter) SetProfile(ctx context.Context, key string, snapshot cache.ProfileSnapshot, ttl time.Duration) error {
	if key == "" {
		return storage.ErrInvalidKey
	}
	if ttl <= 0 {
		return storage.ErrInvalidExpiry
	}

	expiresAt := a.now().UTC().Add(ttl)
	return a.update(func(doc *stateDocument) {
		doc.Profiles[key] = profileDocument{Profile: snapshot.Clone(), ExpiresAt: expiresAt}
	})
}

func (a *Adapter) GetProfile(ctx context.Context, key string) (cache.ProfileSnapshot, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	doc, err := a.load()
	if err != nil {
		return cache.ProfileSnapshot{}, false, err
	}

	entry, ok := doc.Profiles[key]
	if !ok || !a.now().UTC().Before(entry.ExpiresAt) {
		return cache.ProfileSnapshot{}, false, nil
	}
	return entry.Profile.Clone(), true, nil
}

func (a *Adapter) DeleteProfile(ctx context.Context, key string) error {
	return a.update(func(doc *stateDocument) {
		delete(doc.Profiles, key)
	})
}

func (a *Adapter) update(mutate func(doc *stateDocument)) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	doc, err := a.load()
	if err != nil {
		return err
	}

	mutate(&doc)
	a.prune(&doc)
	return a.save(doc)
}

func (a *Adapter) prune(doc *stateDocument) {
	now := a.now().UTC()
	for key, entry := range doc.Flags {
		if !now.Before(entry.ExpiresAt) {
			delete(doc.Flags, key)
		}
	}
	for key, entry := range doc.Profiles {
		if !now.Before(entry.ExpiresAt) {
			delete(doc.Profiles, key)
		}
	}
}

func (a *Adapter) load() (stateDocument, error) {
	doc := stateDocument{
		Flags:    map[string]flagDocument{},
		Profiles: map[string]profileDocument{},
	}

	raw, err := os.ReadFile(a.path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return stateDocument{}, fmt.Errorf("file store: read %s: %w", a.path, err)
	}

	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return stateDocument{}, fmt.Errorf("file store: decode %s: %w", a.path, err)
	}
	if doc.Flags == nil {
		doc.Flags = map[string]flagDocument{}
	}
	if doc.Profiles == nil {
		doc.Profiles = map[string]profileDocument{}
	}
	return doc, nil
}

// save replaces the state file through a rename so readers never observe a
// partially written document.
func (a *Adapter) save(doc stateDocument) error {
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("file store: encode state: %w", err)
	}

	dir := filepath.Dir(a.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("file store: create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".dashauth-state-*")
	if err != nil {
		return fmt.Errorf("file store: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("file store: write state: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("file store: chmod state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file store: close state: %w", err)
	}

	if err := os.Rename(tmpName, a.path); err != nil {
		return fmt.Errorf("file store: replace %s: %w", a.path, err)
	}
	return nil
}
