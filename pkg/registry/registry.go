// Package registry holds the action factories available to automations and
// validates action configuration against each factory's schema.
package registry

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/nurtura/nurtura/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

type Registry struct {
	logger          *slog.Logger
	actionFactories map[string]protocol.ActionFactory
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:          log,
		actionFactories: make(map[string]protocol.ActionFactory),
	}
}

func (r *Registry) RegisterAction(actionFactory protocol.ActionFactory) {
	r.actionFactories[actionFactory.ID()] = actionFactory
}

func (r *Registry) CreateAction(actionType string, config map[string]any) (protocol.Action, error) {
	factory, ok := r.actionFactories[actionType]
	if !ok {
		return nil, fmt.Errorf("action type '%s' not registered", actionType)
	}

	return factory.Create(config)
}

// ValidateActionConfig checks an action item's configuration against the
// factory's JSON schema. Called at definition save time so malformed configs
// never reach the engine.
func (r *Registry) ValidateActionConfig(actionType string, config map[string]any) error {
	factory, ok := r.actionFactories[actionType]
	if !ok {
		return fmt.Errorf("action type '%s' not registered", actionType)
	}

	schema := factory.Schema()
	if schema == nil {
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(config),
	)
	if err != nil {
		return fmt.Errorf("failed to validate config for action '%s': %w", actionType, err)
	}

	if !result.Valid() {
		detail := ""
		for _, resultErr := range result.Errors() {
			if detail != "" {
				detail += "; "
			}

			detail += resultErr.String()
		}

		return fmt.Errorf("invalid config for action '%s': %s", actionType, detail)
	}

	return nil
}

// ActionTypes returns the registered action type identifiers, sorted.
func (r *Registry) ActionTypes() []string {
	types := make([]string, 0, len(r.actionFactories))
	for actionType := range r.actionFactories {
		types = append(types, actionType)
	}

	sort.Strings(types)

	return types
}
