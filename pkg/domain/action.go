package domain

import dErrors "vida-gateway/pkg/domain-errors"

// Action is the closed set of operations a caller can request on a resource.
type Action string

const (
	ActionRead       Action = "read"
	ActionWrite      Action = "write"
	ActionBulkExport Action = "bulk-export"
	ActionAdminister Action = "administer"
)

// Actions is the single source of truth for valid actions, in stable order.
var Actions = []Action{ActionRead, ActionWrite, ActionBulkExport, ActionAdminister}

var validActions = map[Action]bool{
	ActionRead:       true,
	ActionWrite:      true,
	ActionBulkExport: true,
	ActionAdminister: true,
}

// ParseAction constructs an Action from external input.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.IsValid() {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown action %q", s)
	}
	return a, nil
}

// IsValid checks if the action is one of the supported enum values.
func (a Action) IsValid() bool {
	return validActions[a]
}

func (a Action) String() string { return string(a) }
