package revocation

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sslkit/sslkit-go/pkg/log"
)

const (
	// DefaultPollInterval is the fallback reload interval.
	DefaultPollInterval = 30 * time.Second

	// reloadDebounce groups bursts of file events into one reload.
	reloadDebounce = 100 * time.Millisecond
)

// Watch reloads the store when files in its directory change. It uses
// fsnotify for prompt updates, with polling every interval as a fallback.
// A zero interval uses DefaultPollInterval. Watch blocks until ctx is done.
func (s *CRLStore) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	dir := s.Dir()

	var fsEvents <-chan fsnotify.Event
	var fsErrors <-chan error
	watcher, err := fsnotify.NewWatcher()
	if err == nil && dir != "" {
		defer watcher.Close()
		if err := watcher.Add(dir); err == nil {
			fsEvents = watcher.Events
			fsErrors = watcher.Errors
			s.log(log.SeverityDebug, "crl: watching %s", dir)
		} else {
			s.log(log.SeverityWarn, "crl: watch %s failed: %v (using polling)", dir, err)
		}
	} else if err != nil {
		s.log(log.SeverityWarn, "crl: fsnotify unavailable: %v (using polling)", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// debounce is nil until a relevant event arms it.
	var debounce <-chan time.Time
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			debounce = timer.C
		case err, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			s.log(log.SeverityWarn, "crl: fsnotify error: %v", err)
		case <-debounce:
			debounce = nil
			s.reload("change")
		case <-ticker.C:
			s.reload("poll")
		}
	}
}

func (s *CRLStore) reload(reason string) {
	if err := s.Reload(); err != nil {
		s.log(log.SeverityWarn, "crl: reload (%s) failed: %v", reason, err)
		return
	}
	s.log(log.SeverityDebug, "crl: reloaded %d issuer(s) (%s)", s.Len(), reason)
}
