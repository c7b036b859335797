package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDelay collapses the burst of events an editor produces on save.
const reloadDelay = 500 * time.Millisecond

// Loader reads custom policies from disk. A .rego file is one blocking
// policy named after the file; a .json file is a Policy document.
type Loader struct {
	logger zerolog.Logger
}

func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{logger: logger.With().Str("component", "policy-loader").Logger()}
}

// LoadFromPaths reads every file and directory in paths. A missing path or
// an unreadable explicit file is an error; bad files inside a directory are
// skipped with a warning.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var out []Policy
	for _, root := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("policy path %s: %w", root, err)
		}
		if !info.IsDir() {
			p, err := readPolicy(root)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || !isPolicyFile(path) {
				return err
			}
			p, err := readPolicy(path)
			if err != nil {
				l.logger.Warn().Err(err).Str("path", path).Msg("Skipping policy file")
				return nil
			}
			out = append(out, p)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("policy path %s: %w", root, err)
		}
	}
	l.logger.Debug().Int("policies", len(out)).Strs("paths", paths).Msg("Read policy files")
	return out, nil
}

func isPolicyFile(path string) bool {
	switch filepath.Ext(path) {
	case ".rego", ".json":
		return true
	}
	return false
}

func readPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied path
	if err != nil {
		return Policy{}, err
	}

	switch filepath.Ext(path) {
	case ".rego":
		return Policy{
			Name:        strings.TrimSuffix(filepath.Base(path), ".rego"),
			Description: extractDescription(string(data)),
			Rego:        string(data),
			Severity:    SeverityError,
			Enabled:     true,
			Source:      path,
		}, nil
	case ".json":
		var p Policy
		if err := json.Unmarshal(data, &p); err != nil {
			return Policy{}, fmt.Errorf("decode %s: %w", path, err)
		}
		if p.Name == "" || p.Rego == "" {
			return Policy{}, fmt.Errorf("%s: name and rego are required", path)
		}
		if p.Severity == "" {
			p.Severity = SeverityError
		}
		p.Builtin = false
		p.Source = path
		return p, nil
	}
	return Policy{}, fmt.Errorf("%s: not a policy file", path)
}

// extractDescription returns the leading comment block of a Rego module as
// one line.
func extractDescription(src string) string {
	var words []string
	for _, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "#") {
			if line != "" && len(words) > 0 {
				break
			}
			continue
		}
		if text := strings.TrimSpace(strings.TrimPrefix(line, "#")); text != "" {
			words = append(words, text)
		}
	}
	return strings.Join(words, " ")
}

// Watch calls apply with a fresh load of paths whenever a policy file under
// them changes. Watching ends when ctx is done.
func (l *Loader) Watch(ctx context.Context, paths []string, apply func([]Policy) error) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, root := range paths {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || path == root {
				return w.Add(path)
			}
			return nil
		})
		if err != nil {
			_ = w.Close()
			return fmt.Errorf("watch %s: %w", root, err)
		}
	}

	go l.watch(ctx, w, func() {
		policies, err := l.LoadFromPaths(ctx, paths)
		if err == nil {
			err = apply(policies)
		}
		if err != nil {
			l.logger.Error().Err(err).Msg("Policy reload failed")
			return
		}
		l.logger.Info().Int("policies", len(policies)).Msg("Policies reloaded")
	})
	l.logger.Info().Strs("paths", paths).Msg("Watching policy files")
	return nil
}

func (l *Loader) watch(ctx context.Context, w *fsnotify.Watcher, reload func()) {
	defer w.Close()

	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&relevant == 0 || !isPolicyFile(ev.Name) {
				continue
			}
			l.logger.Debug().Str("file", ev.Name).Stringer("op", ev.Op).Msg("Policy file changed")
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(reloadDelay, reload)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			l.logger.Warn().Err(err).Msg("Policy watcher error")
		}
	}
}
