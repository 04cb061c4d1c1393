package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tollboothapp/tollbooth/pkg/domain"
)

// ReloadRecorder receives the status of each rule set reload attempt.
// The engine's metrics collector satisfies this.
type ReloadRecorder interface {
	RecordRuleSetReload(status string)
}

// RuleSetProvider serves the current rule set from a local file and reloads
// it when the file changes. A reload that fails to parse keeps the previous
// rule set; evaluation never observes a half-loaded file.
type RuleSetProvider struct {
	path        string
	logger      *slog.Logger
	recorder    ReloadRecorder
	mu          sync.RWMutex
	ruleSet     *domain.RuleSet
	subscribers []chan *domain.RuleSet
	watcher     *fsnotify.Watcher
	cancel      context.CancelFunc
}

// NewRuleSetProvider creates a provider watching the specified rule file.
func NewRuleSetProvider(path string, logger *slog.Logger, recorder ReloadRecorder) (*RuleSetProvider, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &RuleSetProvider{
		path:     absPath,
		logger:   logger,
		recorder: recorder,
		ruleSet:  &domain.RuleSet{},
		watcher:  watcher,
		cancel:   cancel,
	}

	// The file may not exist yet on first boot; start empty and keep watching.
	if err := p.load(); err != nil {
		logger.Warn("initial rule set load failed", "path", absPath, "error", err)
	}

	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		_ = watcher.Close()
		cancel()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	go p.watchLoop(ctx)

	return p, nil
}

// Current returns the rule set most recently loaded successfully.
func (p *RuleSetProvider) Current() *domain.RuleSet {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ruleSet
}

// Subscribe returns a channel that receives rule set updates. The current
// rule set is delivered immediately.
func (p *RuleSetProvider) Subscribe() <-chan *domain.RuleSet {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan *domain.RuleSet, 1)
	p.subscribers = append(p.subscribers, ch)
	ch <- p.ruleSet
	return ch
}

// Close stops the watcher and cleans up resources.
func (p *RuleSetProvider) Close() error {
	p.cancel()
	return p.watcher.Close()
}

func (p *RuleSetProvider) watchLoop(ctx context.Context) {
	var debounceTimer *time.Timer
	debounceDuration := 100 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}

			// Editors rewrite via rename or truncate, so normalized paths
			// are compared rather than trusting the event verbatim.
			if filepath.Clean(event.Name) != p.path {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Chmod) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDuration, func() {
					if err := p.load(); err != nil {
						p.logger.Error("rule set reload failed", "path", p.path, "error", err)
						p.record("error")
					} else {
						p.logger.Info("rule set reloaded", "path", p.path)
						p.record("success")
					}
				})
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("rule file watcher error", "error", err)
		}
	}
}

func (p *RuleSetProvider) load() error {
	rs, err := LoadRuleSet(p.path)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.ruleSet = rs
	subscribers := make([]chan *domain.RuleSet, len(p.subscribers))
	copy(subscribers, p.subscribers)
	p.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- rs:
		default:
			// Skip if channel is full (slow consumer)
		}
	}

	return nil
}

func (p *RuleSetProvider) record(status string) {
	if p.recorder != nil {
		p.recorder.RecordRuleSetReload(status)
	}
}
