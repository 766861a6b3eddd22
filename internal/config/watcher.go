package config

import (
	"fmt"
	"hash/crc32"
	"os"
	"sync"
	"time"
)

// ConfigWatcher watches for configuration file changes and triggers reload
// callbacks. mtime/size is a cheap pre-filter; the actual reload decision is
// keyed off a CRC32 checksum of the file contents, so a touch that doesn't
// change the bytes (editors that rewrite-in-place with the same content, or
// two saves landing in the same mtime-resolution window) doesn't fire a
// spurious reload.
type ConfigWatcher struct {
	filePath string
	callback func()
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// NewConfigWatcher creates a new configuration file watcher
func NewConfigWatcher(filePath string, callback func()) *ConfigWatcher {
	return &ConfigWatcher{
		filePath: filePath,
		callback: callback,
		stopChan: make(chan struct{}),
	}
}

// Start starts watching the configuration file for changes
func (w *ConfigWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher is already running")
	}

	// Check if file exists
	if _, err := os.Stat(w.filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file does not exist: %s", w.filePath)
	}

	w.running = true
	w.wg.Add(1)

	go w.watch()

	return nil
}

// Stop stops watching the configuration file
func (w *ConfigWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	close(w.stopChan)
	w.wg.Wait()
	w.running = false
}

// fileChecksum reads the file and returns its CRC32 checksum plus the mtime
// and size observed at read time.
func (w *ConfigWatcher) fileChecksum() (checksum uint32, modTime time.Time, size int64, err error) {
	info, err := os.Stat(w.filePath)
	if err != nil {
		return 0, time.Time{}, 0, err
	}
	data, err := os.ReadFile(w.filePath)
	if err != nil {
		return 0, time.Time{}, 0, err
	}
	return crc32.ChecksumIEEE(data), info.ModTime(), info.Size(), nil
}

// watch monitors the configuration file for changes
func (w *ConfigWatcher) watch() {
	defer w.wg.Done()

	var lastModTime time.Time
	var lastSize int64
	var lastSum uint32
	var haveSum bool

	if sum, modTime, size, err := w.fileChecksum(); err == nil {
		lastSum, lastModTime, lastSize = sum, modTime, size
		haveSum = true
	}

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			info, err := os.Stat(w.filePath)
			if err != nil {
				continue
			}
			if info.ModTime().Equal(lastModTime) && info.Size() == lastSize {
				continue
			}

			// mtime/size moved; wait for the writer to finish before hashing.
			time.Sleep(100 * time.Millisecond)

			sum, modTime, size, err := w.fileChecksum()
			if err != nil {
				continue
			}
			lastModTime, lastSize = modTime, size

			if haveSum && sum == lastSum {
				continue
			}
			lastSum, haveSum = sum, true

			if w.callback != nil {
				w.callback()
			}
		}
	}
}

// IsRunning returns true if the watcher is currently running
func (w *ConfigWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// GetFilePath returns the path of the file being watched
func (w *ConfigWatcher) GetFilePath() string {
	return w.filePath
}
