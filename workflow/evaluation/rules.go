// Package evaluation provides survey validation and quality-pillar scoring.
package evaluation

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// MethodologyRule declares the structural requirements a methodology
// imposes on a generated survey.
type MethodologyRule struct {
	// PricingQuestions, when non-nil, requires exactly this many
	// pricing-labeled questions.
	PricingQuestions *int `yaml:"pricing_questions,omitempty"`

	// MinQuestions and MaxQuestions bound the total question count.
	// Zero means unbounded.
	MinQuestions int `yaml:"min_questions,omitempty"`
	MaxQuestions int `yaml:"max_questions,omitempty"`

	// RequiredLabels lists labels that must appear on at least one
	// question (e.g. screener_question).
	RequiredLabels []string `yaml:"required_labels,omitempty"`
}

// Rules maps methodology names to their requirements.
type Rules struct {
	Methodologies map[string]MethodologyRule `yaml:"methodologies"`
}

// DefaultRules returns the built-in methodology requirements.
func DefaultRules() *Rules {
	four := 4
	return &Rules{
		Methodologies: map[string]MethodologyRule{
			"van_westendorp": {
				// The price sensitivity meter needs its four anchor questions
				PricingQuestions: &four,
			},
			"nps": {
				RequiredLabels: []string{"nps_question"},
			},
			"conjoint": {
				MinQuestions: 5,
			},
		},
	}
}

// RuleSet holds the active methodology rules and supports hot reload
// from a YAML file.
type RuleSet struct {
	mu     sync.RWMutex
	rules  *Rules
	path   string
	logger *slog.Logger
}

// NewRuleSet creates a rule set seeded with the built-in defaults. When
// path is non-empty the file is loaded immediately; a missing file is
// not an error (defaults apply until the file appears).
func NewRuleSet(path string, logger *slog.Logger) (*RuleSet, error) {
	if logger == nil {
		logger = slog.Default()
	}

	rs := &RuleSet{
		rules:  DefaultRules(),
		path:   path,
		logger: logger,
	}

	if path != "" {
		if err := rs.Load(); err != nil {
			if os.IsNotExist(err) {
				logger.Info("methodology rules file not found, using defaults", "path", path)
			} else {
				return nil, fmt.Errorf("load methodology rules: %w", err)
			}
		}
	}

	return rs, nil
}

// Load re-reads the rules file and swaps in the parsed rules.
func (rs *RuleSet) Load() error {
	data, err := os.ReadFile(rs.path)
	if err != nil {
		return err
	}

	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return fmt.Errorf("parse rules file %s: %w", rs.path, err)
	}

	rs.mu.Lock()
	rs.rules = &rules
	rs.mu.Unlock()

	rs.logger.Info("methodology rules loaded",
		"path", rs.path,
		"methodologies", len(rules.Methodologies))
	return nil
}

// Rule returns the rule for a methodology, or nil when none is declared.
func (rs *RuleSet) Rule(methodology string) *MethodologyRule {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	if rs.rules == nil {
		return nil
	}
	if rule, ok := rs.rules.Methodologies[methodology]; ok {
		return &rule
	}
	return nil
}

// Watch reloads the rules file whenever it changes, until ctx is
// cancelled. Reload failures keep the previous rules and log a warning.
func (rs *RuleSet) Watch(ctx context.Context) error {
	if rs.path == "" {
		return fmt.Errorf("no rules path configured")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rules watcher: %w", err)
	}

	// Watch the directory so editors that replace the file are caught
	if err := watcher.Add(filepath.Dir(rs.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch rules dir: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != rs.path {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := rs.Load(); err != nil {
					rs.logger.Warn("methodology rules reload failed, keeping previous rules",
						"path", rs.path,
						"error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				rs.logger.Warn("rules watcher error", "error", err)
			}
		}
	}()

	return nil
}
