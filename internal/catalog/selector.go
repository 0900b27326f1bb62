package catalog

import (
	"errors"
	"fmt"
	"sort"
)

var ErrNoEligibleModel = errors.New("no eligible model")

// Select picks the model for a task. Eligibility requires the model's context
// window to cover the task and, when a budget ceiling is set, its per-million
// rate to stay under the ceiling. Survivors are ordered by ascending cost,
// ties broken by larger context window and then catalog order. A task-type
// preference wins only if the preferred model survived filtering.
//
// Selection is fully deterministic: identical catalog and task always yield
// the identical model.
func (c *Catalog) Select(task TaskDescriptor) (ModelProfile, error) {
	var eligible []ModelProfile
	for _, p := range c.profiles {
		if p.MaxContextTokens < task.ContextTokens {
			continue
		}
		if task.BudgetCeilingCents > 0 && p.CostPer1MCents > task.BudgetCeilingCents {
			continue
		}
		eligible = append(eligible, p)
	}

	if len(eligible) == 0 {
		return ModelProfile{}, fmt.Errorf("%w: context=%d budget_ceiling=%d",
			ErrNoEligibleModel, task.ContextTokens, task.BudgetCeilingCents)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].CostPer1MCents != eligible[j].CostPer1MCents {
			return eligible[i].CostPer1MCents < eligible[j].CostPer1MCents
		}
		return eligible[i].MaxContextTokens > eligible[j].MaxContextTokens
	})

	if preferredID, ok := c.preferred[task.Type]; ok {
		for _, p := range eligible {
			if p.ID == preferredID {
				return p, nil
			}
		}
	}

	return eligible[0], nil
}
