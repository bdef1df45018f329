package store

import "agentbox/internal/model"

// Transitions is the table of legal state changes. Writing the current state
// again is always allowed, as is moving to deleted.
type Transitions map[model.State][]model.State

// DefaultTransitions follows the build, stage, check, promote pipeline with
// its failure and rollback exits.
var DefaultTransitions = Transitions{
	model.StateIdle:       {model.StateBuilding, model.StateFailed},
	model.StateBuilding:   {model.StateStaging, model.StateFailed, model.StateIdle},
	model.StateStaging:    {model.StateHealthy, model.StateFailed, model.StateRolledBack},
	model.StateHealthy:    {model.StatePromoted, model.StateFailed, model.StateRolledBack},
	model.StatePromoted:   {model.StateBuilding, model.StateRetiredOld, model.StateRolledBack, model.StateFailed},
	model.StateFailed:     {model.StateBuilding, model.StateRolledBack, model.StateIdle},
	model.StateRolledBack: {model.StateBuilding, model.StatePromoted, model.StateIdle},
	model.StateRetiredOld: {model.StateBuilding},
	model.StateDeleted:    {},
}

// Allowed reports whether a record may move from one state to another.
func (t Transitions) Allowed(from, to model.State) bool {
	if from == to || to == model.StateDeleted {
		return true
	}
	for _, next := range t[from] {
		if next == to {
			return true
		}
	}
	return false
}
