package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Watcher monitors the data directory's .env file and the approved
// learned-safe list for changes and applies them to the running process.
type Watcher struct {
	config          *Config
	envPath         string
	learnedPath     string
	watcher         *fsnotify.Watcher
	stopChan        chan struct{}
	stopOnce        sync.Once
	lastEnvMod      time.Time
	lastLearnedMod  time.Time
	mu              sync.RWMutex
	onLearnedReload func() // reinstalls learned-safe patterns
	onEnvReload     func() // pushes hot-reloaded settings into consumers
}

// NewWatcher creates a watcher over <dataDir>/.env and <dataDir>/learned-safe.json.
func NewWatcher(config *Config) (*Watcher, error) {
	envPath := filepath.Join(config.DataDir, ".env")
	learnedPath := filepath.Join(config.DataDir, "learned-safe.json")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		config:      config,
		envPath:     envPath,
		learnedPath: learnedPath,
		watcher:     watcher,
		stopChan:    make(chan struct{}),
	}

	if stat, err := os.Stat(envPath); err == nil {
		w.lastEnvMod = stat.ModTime()
	}
	if stat, err := os.Stat(learnedPath); err == nil {
		w.lastLearnedMod = stat.ModTime()
	}

	return w, nil
}

// SetLearnedReloadCallback sets the function invoked when learned-safe.json
// changes on disk (typically a Pattern Store reinstall).
func (w *Watcher) SetLearnedReloadCallback(callback func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onLearnedReload = callback
}

// SetEnvReloadCallback sets the function invoked after a .env reload
// changed any hot-reloadable setting (typically re-keying the
// authenticator).
func (w *Watcher) SetEnvReloadCallback(callback func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onEnvReload = callback
}

// Start begins watching the data directory.
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.envPath)
	if err := w.watcher.Add(dir); err != nil {
		log.Warn().Err(err).Str("path", dir).Msg("Failed to watch data directory, falling back to polling")
		go w.pollForChanges()
		return nil
	}

	go w.watchForChanges()
	log.Info().
		Str("env_path", w.envPath).
		Str("learned_path", w.learnedPath).
		Msg("Started watching configuration files for changes")
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.watcher.Close()
	})
}

// ReloadConfig manually triggers an .env reload (e.g. from SIGHUP).
func (w *Watcher) ReloadConfig() {
	w.reloadEnv()
}

func (w *Watcher) watchForChanges() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			switch filepath.Base(event.Name) {
			case ".env":
				// Debounce - wait a bit for the write to complete
				time.Sleep(100 * time.Millisecond)
				log.Info().Str("event", event.Op.String()).Msg("Detected .env file change")
				w.reloadEnv()
			case "learned-safe.json":
				time.Sleep(100 * time.Millisecond)
				log.Info().Str("event", event.Op.String()).Msg("Detected learned-safe.json change")
				w.reloadLearned()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Config watcher error")

		case <-w.stopChan:
			return
		}
	}
}

func (w *Watcher) pollForChanges() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if stat, err := os.Stat(w.envPath); err == nil {
				if stat.ModTime().After(w.lastEnvMod) {
					log.Info().Msg("Detected .env file change via polling")
					w.lastEnvMod = stat.ModTime()
					w.reloadEnv()
				}
			}
			if stat, err := os.Stat(w.learnedPath); err == nil {
				if stat.ModTime().After(w.lastLearnedMod) {
					log.Info().Msg("Detected learned-safe.json change via polling")
					w.lastLearnedMod = stat.ModTime()
					w.reloadLearned()
				}
			}

		case <-w.stopChan:
			return
		}
	}
}

// reloadEnv re-reads the .env file and applies the hot-reloadable subset:
// the auth key and the working-directory policy. Everything else requires
// a restart.
func (w *Watcher) reloadEnv() {
	w.mu.Lock()
	defer w.mu.Unlock()

	envMap, err := godotenv.Read(w.envPath)
	if err != nil {
		// Missing file is fine (open mode)
		if !os.IsNotExist(err) {
			log.Error().Err(err).Msg("Failed to read .env file")
			return
		}
		envMap = make(map[string]string)
	}

	var changes []string

	// Settings that came from real environment variables outrank the .env
	// file and are never clobbered by a reload.
	if !w.config.EnvOverrides["authKey"] {
		newKey := strings.Trim(envMap["SHELLGATE_AUTH_KEY"], "'\"")
		if newKey != w.config.AuthKey {
			oldKey := w.config.AuthKey
			w.config.AuthKey = newKey
			switch {
			case newKey == "":
				changes = append(changes, "auth key removed")
			case oldKey == "":
				changes = append(changes, "auth key added")
			default:
				changes = append(changes, "auth key updated")
			}
		}
	}

	if !w.config.EnvOverrides["authKeyBcrypt"] {
		newHash := strings.Trim(envMap["SHELLGATE_AUTH_KEY_BCRYPT"], "'\"")
		if newHash != w.config.AuthKeyBcrypt {
			w.config.AuthKeyBcrypt = newHash
			changes = append(changes, "auth key hash updated")
		}
	}

	if v, ok := envMap["SHELLGATE_WORKDIR_ENFORCED"]; ok && !w.config.EnvOverrides["workdirEnforced"] {
		enforced := v == "true" || v == "1"
		if enforced != w.config.WorkdirEnforced {
			w.config.WorkdirEnforced = enforced
			changes = append(changes, "workdir enforcement toggled")
		}
	}
	if v, ok := envMap["SHELLGATE_WORKDIR_ROOTS"]; ok && !w.config.EnvOverrides["workdirRoots"] {
		roots := splitAndTrim(v)
		if !equalStrings(roots, w.config.WorkdirRoots) {
			w.config.WorkdirRoots = roots
			changes = append(changes, "workdir roots updated")
		}
	}

	if len(changes) > 0 {
		log.Info().
			Strs("changes", changes).
			Bool("has_auth", w.config.AuthKey != "" || w.config.AuthKeyBcrypt != "").
			Msg("Applied .env file changes to runtime config")
		// Invoked while w.mu is held so the callback sees a consistent
		// config; callbacks must not call back into the watcher.
		if w.onEnvReload != nil {
			w.onEnvReload()
		}
	} else {
		log.Debug().Msg("No relevant changes detected in .env file")
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (w *Watcher) reloadLearned() {
	w.mu.RLock()
	callback := w.onLearnedReload
	w.mu.RUnlock()

	if callback != nil {
		go callback()
	}
}
