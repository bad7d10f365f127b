package lexicon

import (
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the store whenever its backing file changes. Events are
// debounced because editors tend to emit several writes per save. Returns
// without starting a watcher when no file is configured.
func (s *Store) Watch() error {
	if s.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(s.path); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					if err := w.Add(ev.Name); err != nil {
						slog.Error("lexicon watch re-add", "path", ev.Name, "err", err)
					}
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					if !debounce.Stop() {
						select {
						case <-debounce.C:
						default:
						}
					}
					debounce.Reset(250 * time.Millisecond)
				}
			case <-debounce.C:
				summary, err := s.Reload()
				if err != nil {
					slog.Error("lexicon reload failed", "err", err)
					continue
				}
				slog.Info("lexicon reloaded", "path", s.path, "loaded", summary)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Error("lexicon watch error", "err", err)
			}
		}
	}()
	return nil
}
