package engine

import "fmt"

// Step pairs a HostGroup with the ordered task list to run against it.
type Step struct {
	Group HostGroup
	Tasks []Task
}

// Registry is the static Goal -> plan mapping. Registration is additive
// and explicit; there is no discovery. The Registry performs no execution
// and holds no mutable run state, so a single instance is safe to share
// across runs.
type Registry struct {
	goals map[Goal][]Step
	order []Goal
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{goals: make(map[Goal][]Step)}
}

// Register appends one Step to a goal's plan. Calls for the same goal
// accumulate in declaration order, which is also execution order. The same
// task may be registered under any number of goals and groups.
func (r *Registry) Register(goal Goal, group HostGroup, tasks ...Task) *Registry {
	if _, ok := r.goals[goal]; !ok {
		r.order = append(r.order, goal)
	}
	r.goals[goal] = append(r.goals[goal], Step{Group: group, Tasks: tasks})
	return r
}

// Resolve returns the ordered plan for a goal. Unknown goals and plans
// with no runnable tasks are configuration errors; no task executes.
func (r *Registry) Resolve(goal Goal) ([]Step, error) {
	steps, ok := r.goals[goal]
	if !ok {
		return nil, NewConfigError(fmt.Sprintf("goal %q is not registered", goal), nil).
			WithCode(ErrCodeUnknownGoal)
	}

	total := 0
	for _, step := range steps {
		total += len(step.Tasks)
	}
	if total == 0 {
		return nil, NewConfigError(fmt.Sprintf("goal %q resolves to an empty plan", goal), nil).
			WithCode(ErrCodeEmptyPlan)
	}

	// Copy so callers cannot reorder the registered plan.
	out := make([]Step, len(steps))
	copy(out, steps)
	return out, nil
}

// Goals lists registered goals in registration order.
func (r *Registry) Goals() []Goal {
	out := make([]Goal, len(r.order))
	copy(out, r.order)
	return out
}
