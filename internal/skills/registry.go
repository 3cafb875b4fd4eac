package skills

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/relaybot/relay/internal/observability"
	"github.com/relaybot/relay/pkg/models"
)

// Registry holds the currently known skills. Reads are cheap; reloads swap
// the whole map under the write lock.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]*models.Skill
	logger *observability.Logger

	// onReload is invoked after a successful Reload with the new skill
	// list; the router uses it to reindex embeddings.
	onReload func(ctx context.Context, skills []*models.Skill)
}

// NewRegistry creates an empty skill registry.
func NewRegistry(logger *observability.Logger) *Registry {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Registry{
		skills: map[string]*models.Skill{},
		logger: logger,
	}
}

// OnReload registers a callback fired after each successful reload.
func (r *Registry) OnReload(fn func(ctx context.Context, skills []*models.Skill)) {
	r.mu.Lock()
	r.onReload = fn
	r.mu.Unlock()
}

// LoadDir scans a directory of skill subdirectories (each holding a
// SKILL.md) and replaces the registry contents. Unparseable skills are
// skipped with a warning.
func (r *Registry) LoadDir(ctx context.Context, dir string) error {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		r.logger.Debug(ctx, "skills directory does not exist", "path", dir)
		return r.Replace(ctx, nil)
	}
	if err != nil {
		return fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory: %s", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read directory: %w", err)
	}

	var loaded []*models.Skill
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		skillFile := filepath.Join(dir, entry.Name(), SkillFilename)
		if _, err := os.Stat(skillFile); os.IsNotExist(err) {
			continue
		}
		skill, err := ParseSkillFile(skillFile)
		if err != nil {
			r.logger.Warn(ctx, "failed to parse skill", "path", skillFile, "error", err)
			continue
		}
		loaded = append(loaded, skill)
	}

	r.logger.Info(ctx, "loaded skills", "count", len(loaded), "path", dir)
	return r.Replace(ctx, loaded)
}

// Replace swaps the registry contents with the given skills.
func (r *Registry) Replace(ctx context.Context, skills []*models.Skill) error {
	next := make(map[string]*models.Skill, len(skills))
	for _, skill := range skills {
		next[skill.Name] = skill
	}

	r.mu.Lock()
	r.skills = next
	onReload := r.onReload
	r.mu.Unlock()

	if onReload != nil {
		onReload(ctx, skills)
	}
	return nil
}

// Get returns a skill by name.
func (r *Registry) Get(name string) (*models.Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	skill, ok := r.skills[name]
	return skill, ok
}

// Available returns all available skills sorted by name.
func (r *Registry) Available() []*models.Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Skill, 0, len(r.skills))
	for _, skill := range r.skills {
		if skill.Available {
			out = append(out, skill)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FilterByCapabilities returns available skills whose required capabilities
// are all granted. A skill with no requirements always passes.
func (r *Registry) FilterByCapabilities(granted []string) []*models.Skill {
	grantedSet := make(map[string]bool, len(granted))
	for _, c := range granted {
		grantedSet[c] = true
	}

	var out []*models.Skill
	for _, skill := range r.Available() {
		ok := true
		for _, need := range skill.Capabilities {
			if !grantedSet[need] {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, skill)
		}
	}
	return out
}
