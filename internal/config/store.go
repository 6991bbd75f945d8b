package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	yaml "go.yaml.in/yaml/v3"

	"tgtg_watcher/internal/model"
)

// DefaultBaseURL is the production API prefix.
const DefaultBaseURL = "https://apptoogoodtogo.com/api/"

// APISettings configures the remote API client.
type APISettings struct {
	BaseURL string            `yaml:"baseURL" json:"baseURL"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// File is the content of the accounts file.
type File struct {
	API      APISettings               `yaml:"api"`
	Accounts map[string]*model.Account `yaml:"accounts"`
}

type rawFile struct {
	API      yaml.Node            `yaml:"api"`
	Accounts map[string]yaml.Node `yaml:"accounts"`
}

// DefaultFile returns an accounts file without accounts.
func DefaultFile() *File {
	return &File{
		API:      APISettings{BaseURL: DefaultBaseURL},
		Accounts: make(map[string]*model.Account),
	}
}

// DefaultAccount returns the settings a new account starts with.
func DefaultAccount() model.Account {
	return model.Account{
		DeviceType: "IOS",
		API: model.Intervals{
			AuthenticationMs: 3_600_000,
			PollingMs:        30_000,
		},
		MessageFilter: model.MessageFilter{ShowIncreaseFromZero: true},
		Notifications: model.Notifications{
			Console: model.ConsoleConfig{Enabled: true},
			Gotify:  model.GotifyConfig{Priority: 5},
			Ntfy:    model.NtfyConfig{Priority: 3},
			Email:   model.EmailConfig{SMTPPort: 465},
		},
	}
}

// mergeInto decodes a YAML (or JSON) document over f. Keys missing from the
// document keep their current value, or the default for accounts new to f.
func mergeInto(f *File, data []byte) error {
	var raw rawFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("yaml unmarshal: %w", err)
	}
	if !raw.API.IsZero() {
		if err := raw.API.Decode(&f.API); err != nil {
			return fmt.Errorf("decode api: %w", err)
		}
	}
	if f.API.BaseURL == "" {
		f.API.BaseURL = DefaultBaseURL
	}
	for id, node := range raw.Accounts {
		acct := DefaultAccount()
		if cur, ok := f.Accounts[id]; ok {
			acct = cloneAccount(*cur)
		}
		if err := node.Decode(&acct); err != nil {
			return fmt.Errorf("decode account %s: %w", id, err)
		}
		acct.ID = id
		f.Accounts[id] = &acct
	}
	return nil
}

func cloneAccount(a model.Account) model.Account {
	if a.Notifications.IFTTT.WebhookEvents != nil {
		events := make([]string, len(a.Notifications.IFTTT.WebhookEvents))
		copy(events, a.Notifications.IFTTT.WebhookEvents)
		a.Notifications.IFTTT.WebhookEvents = events
	}
	return a
}

// Store owns the accounts file and publishes its changes.
type Store struct {
	path string
	log  *slog.Logger

	mu       sync.RWMutex
	file     *File
	lastData []byte

	subsMu sync.Mutex
	subs   []chan struct{}

	debounce time.Duration
}

// NewStore creates a Store for the accounts file at path.
func NewStore(path string, log *slog.Logger) *Store {
	return &Store{
		path:     path,
		log:      log,
		file:     DefaultFile(),
		debounce: 250 * time.Millisecond,
	}
}

// Path returns the location of the accounts file.
func (s *Store) Path() string {
	return s.path
}

// Load reads the accounts file. A missing file yields an empty configuration.
func (s *Store) Load() error {
	f, data, err := s.parse()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.file = f
	s.lastData = data
	s.mu.Unlock()
	return nil
}

func (s *Store) parse() (*File, []byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultFile(), nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read config: %w", err)
	}
	f := DefaultFile()
	if err := mergeInto(f, data); err != nil {
		return nil, nil, fmt.Errorf("parse config %s: %w", s.path, err)
	}
	return f, data, nil
}

// Save writes the current configuration to disk.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	data, err := yaml.Marshal(s.file)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	s.lastData = data
	return nil
}

// API returns the remote API settings.
func (s *Store) API() APISettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	api := s.file.API
	if api.Headers != nil {
		headers := make(map[string]string, len(api.Headers))
		for k, v := range api.Headers {
			headers[k] = v
		}
		api.Headers = headers
	}
	return api
}

// Accounts returns a copy of every configured account ordered by id.
func (s *Store) Accounts() []model.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Account, 0, len(s.file.Accounts))
	for _, a := range s.file.Accounts {
		out = append(out, cloneAccount(*a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Account returns a copy of the account with the given id.
func (s *Store) Account(id string) (model.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.file.Accounts[id]
	if !ok {
		return model.Account{}, false
	}
	return cloneAccount(*a), true
}

// AccountByEmail returns a copy of the account registered with email.
func (s *Store) AccountByEmail(email string) (model.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.file.Accounts {
		if a.Email == email {
			return cloneAccount(*a), true
		}
	}
	return model.Account{}, false
}

// AddAccount registers email under a new time-based UUID and saves the file.
// An email that is already registered returns the existing account.
func (s *Store) AddAccount(email string) (model.Account, error) {
	if email == "" {
		return model.Account{}, fmt.Errorf("email is required")
	}
	if a, ok := s.AccountByEmail(email); ok {
		return a, nil
	}
	id, err := uuid.NewUUID()
	if err != nil {
		return model.Account{}, fmt.Errorf("generate account id: %w", err)
	}

	acct := DefaultAccount()
	acct.ID = id.String()
	acct.Email = email

	s.mu.Lock()
	s.file.Accounts[acct.ID] = &acct
	err = s.saveLocked()
	s.mu.Unlock()
	if err != nil {
		return model.Account{}, err
	}
	s.publish()
	return cloneAccount(acct), nil
}

// UpdateAccount applies fn to the account with the given id and saves the file.
func (s *Store) UpdateAccount(id string, fn func(a *model.Account)) (model.Account, error) {
	s.mu.Lock()
	a, ok := s.file.Accounts[id]
	if !ok {
		s.mu.Unlock()
		return model.Account{}, fmt.Errorf("account %s not found", id)
	}
	fn(a)
	a.ID = id
	updated := cloneAccount(*a)
	err := s.saveLocked()
	s.mu.Unlock()
	if err != nil {
		return model.Account{}, err
	}
	s.publish()
	return updated, nil
}

// Merge applies a YAML or JSON document over the current configuration and
// saves the result.
func (s *Store) Merge(doc []byte) error {
	s.mu.Lock()
	if err := mergeInto(s.file, doc); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("merge config: %w", err)
	}
	err := s.saveLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.publish()
	return nil
}

// Reset replaces the configuration with the defaults and saves it.
func (s *Store) Reset() error {
	s.mu.Lock()
	s.file = DefaultFile()
	err := s.saveLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.publish()
	return nil
}

// Subscribe returns a channel that receives a signal after every change.
// Signals coalesce while the subscriber is busy.
func (s *Store) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.subsMu.Lock()
	s.subs = append(s.subs, ch)
	s.subsMu.Unlock()
	return ch
}

func (s *Store) publish() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Watch reloads the file when it changes on disk, blocking until ctx is cancelled.
// Invalid edits are logged and the previous configuration stays active.
func (s *Store) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	reload := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != filepath.Base(s.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(s.debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("config watcher", "error", err)
		case <-reload:
			s.reload()
		}
	}
}

func (s *Store) reload() {
	f, data, err := s.parse()
	if err != nil {
		s.log.Error("reload config", "path", s.path, "error", err)
		return
	}
	s.mu.Lock()
	if bytes.Equal(data, s.lastData) {
		s.mu.Unlock()
		return
	}
	s.file = f
	s.lastData = data
	s.mu.Unlock()

	s.log.Info("config reloaded", "path", s.path, "accounts", len(f.Accounts))
	s.publish()
}
