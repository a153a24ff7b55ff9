package planner

import (
	"fmt"

	"github.com/smallbiznis/mailforge/internal/costs"
	generationdomain "github.com/smallbiznis/mailforge/internal/generation/domain"
)

// Plan expands a request into the fixed task sequence: the four campaign-level
// text tasks, one product copy per product, then the images when requested.
// Every task gets its cost resolved here, before any reservation happens; an
// unpriceable task aborts the whole plan so a run never starts half-priced.
func Plan(req generationdomain.PlanRequest, table *costs.Table) ([]generationdomain.Task, error) {
	if req.AccountID == 0 {
		return nil, generationdomain.ErrInvalidAccount
	}
	if req.CampaignID == 0 || req.CampaignName == "" {
		return nil, generationdomain.ErrInvalidCampaign
	}
	if len(req.Products) == 0 {
		return nil, generationdomain.ErrNoProducts
	}

	tasks := make([]generationdomain.Task, 0, len(generationdomain.TextTaskKinds)+2*len(req.Products)+1)

	for _, kind := range generationdomain.TextTaskKinds {
		task, err := newTask(table, kind, 0, req.TextProviderID, req.TextModelID)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	for index := range req.Products {
		task, err := newTask(table, generationdomain.TaskKindProductCopy, index, req.TextProviderID, req.TextModelID)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	if req.IncludeImages {
		task, err := newTask(table, generationdomain.TaskKindMainImage, 0, req.ImageProviderID, req.ImageModelID)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)

		for index := range req.Products {
			task, err := newTask(table, generationdomain.TaskKindProductImage, index, req.ImageProviderID, req.ImageModelID)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, task)
		}
	}

	if len(tasks) == 0 {
		return nil, generationdomain.ErrNoTasks
	}
	return tasks, nil
}

// TotalCost sums the resolved cost of every planned task.
func TotalCost(tasks []generationdomain.Task) int64 {
	var total int64
	for _, task := range tasks {
		total += task.CostCredits
	}
	return total
}

func newTask(table *costs.Table, kind generationdomain.TaskKind, productIndex int, providerID, modelID string) (generationdomain.Task, error) {
	cost, err := table.Cost(providerID, modelID, kind)
	if err != nil {
		return generationdomain.Task{}, fmt.Errorf("price %s for %s/%s: %w", kind, providerID, modelID, err)
	}
	return generationdomain.Task{
		Kind:         kind,
		ProductIndex: productIndex,
		ProviderID:   providerID,
		ModelID:      modelID,
		CostCredits:  cost,
		Status:       generationdomain.TaskStatusPlanned,
	}, nil
}
