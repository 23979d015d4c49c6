package config

import (
	"context"
	"path/filepath"

	"github.com/bryanchriswhite/pluriview/internal/logger"
	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config whenever the file is rewritten and hands the new
// value to onChange. It returns once ctx is cancelled.
//
// The directory is watched rather than the file because Save replaces the
// file by rename, which drops inotify watches on the old inode.
func (m *Manager) Watch(ctx context.Context, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(m.configPath)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	log := logger.WithComponent("config")
	target := filepath.Clean(m.configPath)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := m.Reload(); err != nil {
				log.Warn().Err(err).Msg("Ignoring unreadable config change")
				continue
			}
			log.Info().Str("path", m.configPath).Msg("Config reloaded")
			if onChange != nil {
				onChange(m.Get())
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Config watcher error")
		}
	}
}
