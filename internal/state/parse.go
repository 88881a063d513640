package state

import (
	"fmt"
	"maps"
	"slices"

	"github.com/gxo-labs/rdx/internal/config"
	rdx "github.com/gxo-labs/rdx/pkg/rdx/v1"
	gxoerrors "github.com/gxo-labs/rdx/pkg/rdx/v1/errors"
)

// ParseAction converts a scenario action into its typed action.
func ParseAction(spec config.ActionSpec) (rdx.Action, error) {
	switch spec.Type {
	case config.ActionSet:
		return SetValue{Path: spec.Path, Value: spec.Value}, nil
	case config.ActionDelete:
		return DeleteValue{Path: spec.Path}, nil
	case config.ActionIncrement:
		by := 1.0
		if spec.By != nil {
			by = *spec.By
		}
		return Increment{Path: spec.Path, By: by}, nil
	case config.ActionAppend:
		return AppendValue{Path: spec.Path, Value: spec.Value}, nil
	case config.ActionBatch:
		actions, err := ParseActions(spec.Actions)
		if err != nil {
			return nil, err
		}
		return Batch{Actions: actions}, nil
	case config.ActionExec:
		return Exec{
			Path:        spec.Path,
			Command:     spec.Command,
			Args:        slices.Clone(spec.Args),
			WorkingDir:  spec.WorkingDir,
			Environment: maps.Clone(spec.Environment),
		}, nil
	default:
		return nil, gxoerrors.NewValidationError(fmt.Sprintf("unknown action type '%s'", spec.Type), nil)
	}
}

// ParseActions converts specs in order, stopping at the first failure.
func ParseActions(specs []config.ActionSpec) ([]rdx.Action, error) {
	actions := make([]rdx.Action, 0, len(specs))
	for i, spec := range specs {
		action, err := ParseAction(spec)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		actions = append(actions, action)
	}
	return actions, nil
}
