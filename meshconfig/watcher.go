package meshconfig

import (
	"context"
	"encoding/json"
	"os"

	"github.com/fsnotify/fsnotify"

	"github.com/mcp-mesh/mesh-core/mesh"
	"github.com/mcp-mesh/mesh-core/runtime/telemetry"
)

// SpecWatcher hot-reloads an AgentSpec JSON file on write, calling onChange
// with the newly parsed spec. Grounded on CirtusX-ctrl-ai-v1's
// fsnotify-watched layered config idiom; an ambient addition to spec §4.7
// since process config loading is otherwise static per-process.
type SpecWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	logger  telemetry.Logger
	done    chan struct{}
}

// WatchSpecFile starts watching path for writes and invokes onChange with
// the freshly decoded AgentSpec each time the file changes. Malformed
// writes (e.g. a partial save) are logged and skipped rather than calling
// onChange with a zero-value spec.
func WatchSpecFile(path string, logger telemetry.Logger, onChange func(mesh.AgentSpec)) (*SpecWatcher, error) {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}

	sw := &SpecWatcher{watcher: w, path: path, logger: logger, done: make(chan struct{})}
	go sw.run(onChange)
	return sw, nil
}

func (sw *SpecWatcher) run(onChange func(mesh.AgentSpec)) {
	for {
		select {
		case ev, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			spec, err := loadSpecFile(sw.path)
			if err != nil {
				sw.logger.Warn(context.Background(), "spec file reload failed, keeping previous config", "path", sw.path, "err", err)
				continue
			}
			onChange(spec)
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			sw.logger.Warn(context.Background(), "spec file watcher error", "path", sw.path, "err", err)
		case <-sw.done:
			return
		}
	}
}

// Close stops the watcher.
func (sw *SpecWatcher) Close() error {
	close(sw.done)
	return sw.watcher.Close()
}

func loadSpecFile(path string) (mesh.AgentSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return mesh.AgentSpec{}, err
	}
	var spec mesh.AgentSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return mesh.AgentSpec{}, err
	}
	return spec, nil
}
