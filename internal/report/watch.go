package report

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"certtrace/internal/logging"
)

// Watcher hot-reloads a rule file into a scheduler when it changes on
// disk. A rule file that fails to parse is ignored; the scheduler
// keeps the last good rule set.
type Watcher struct {
	fw   *fsnotify.Watcher
	done chan struct{}
}

// WatchRules starts watching path, reloading sched on every write.
func WatchRules(path string, sched *Scheduler) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors replace files rather than write in
	// place, which drops a watch on the file itself.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{fw: fw, done: make(chan struct{})}
	target := filepath.Clean(path)

	go func() {
		defer close(w.done)
		for {
			select {
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				rules, err := LoadRules(target)
				if err != nil {
					logging.ReportWarn("rule reload skipped: %v", err)
					continue
				}
				sched.SetRules(rules)
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				logging.ReportWarn("rule watcher error: %v", err)
			}
		}
	}()

	logging.Report("watching reporting rules at %s", target)
	return w, nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	err := w.fw.Close()
	<-w.done
	return err
}
