package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dukex/apiflow/pkg/models"
	"gopkg.in/yaml.v3"
)

// Environments serves the read-only environment definitions of the run service.
type Environments struct {
	mu           sync.RWMutex
	environments map[string]*models.Environment
}

// NewEnvironments creates an environment catalogue from the given definitions.
func NewEnvironments(environments ...*models.Environment) *Environments {
	catalogue := &Environments{environments: make(map[string]*models.Environment, len(environments))}
	for _, env := range environments {
		catalogue.environments[env.EnvironmentID] = env
	}

	return catalogue
}

// LoadEnvironments reads a list of environments from a .json, .yaml or .yml file.
func LoadEnvironments(path string) (*Environments, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read environments file: %w", err)
	}

	var environments []*models.Environment

	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &environments)
	default:
		err = json.Unmarshal(raw, &environments)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to parse environments file %s: %w", path, err)
	}

	for i, env := range environments {
		if env == nil || env.EnvironmentID == "" {
			return nil, fmt.Errorf("environment %d in %s has no environmentId: %w", i, path, ErrInvalidRequest)
		}
	}

	return NewEnvironments(environments...), nil
}

// Get returns an environment by id.
func (e *Environments) Get(_ context.Context, id string) (*models.Environment, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	env, ok := e.environments[id]
	if !ok {
		return nil, fmt.Errorf("environment %s: %w", id, ErrEnvironmentNotFound)
	}

	return env, nil
}

// Put adds or replaces an environment.
func (e *Environments) Put(env *models.Environment) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.environments[env.EnvironmentID] = env
}
