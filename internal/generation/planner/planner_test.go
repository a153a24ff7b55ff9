package planner

import (
	"errors"
	"testing"

	"github.com/smallbiznis/mailforge/internal/costs"
	generationdomain "github.com/smallbiznis/mailforge/internal/generation/domain"
)

func testTable(t *testing.T) *costs.Table {
	t.Helper()
	table, err := costs.NewTable([]costs.Entry{
		{ProviderID: "openai", ModelID: "*", Kind: generationdomain.TaskKindSubjectLine, Credits: 1},
		{ProviderID: "openai", ModelID: "*", Kind: generationdomain.TaskKindPreviewText, Credits: 1},
		{ProviderID: "openai", ModelID: "*", Kind: generationdomain.TaskKindMainHeadline, Credits: 1},
		{ProviderID: "openai", ModelID: "*", Kind: generationdomain.TaskKindMainDescription, Credits: 1},
		{ProviderID: "openai", ModelID: "*", Kind: generationdomain.TaskKindProductCopy, Credits: 1},
		{ProviderID: "stability", ModelID: "*", Kind: generationdomain.TaskKindMainImage, Credits: 4},
		{ProviderID: "stability", ModelID: "*", Kind: generationdomain.TaskKindProductImage, Credits: 4},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return table
}

func baseRequest() generationdomain.PlanRequest {
	return generationdomain.PlanRequest{
		AccountID:    1,
		CampaignID:   100,
		CampaignName: "Spring Launch",
		Products: []generationdomain.Product{
			{Name: "Tote Bag"},
			{Name: "Espresso Cup"},
		},
		TextProviderID:  "openai",
		TextModelID:     "gpt-4o-mini",
		ImageProviderID: "stability",
		ImageModelID:    "sdxl",
	}
}

func kinds(tasks []generationdomain.Task) []generationdomain.TaskKind {
	out := make([]generationdomain.TaskKind, len(tasks))
	for i, task := range tasks {
		out[i] = task.Kind
	}
	return out
}

func TestPlanTextOnlyOrder(t *testing.T) {
	req := baseRequest()
	tasks, err := Plan(req, testTable(t))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	want := []generationdomain.TaskKind{
		generationdomain.TaskKindSubjectLine,
		generationdomain.TaskKindPreviewText,
		generationdomain.TaskKindMainHeadline,
		generationdomain.TaskKindMainDescription,
		generationdomain.TaskKindProductCopy,
		generationdomain.TaskKindProductCopy,
	}
	got := kinds(tasks)
	if len(got) != len(want) {
		t.Fatalf("task count = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("task %d = %s, want %s", i, got[i], want[i])
		}
	}
	if tasks[4].ProductIndex != 0 || tasks[5].ProductIndex != 1 {
		t.Fatalf("product indexes = %d, %d", tasks[4].ProductIndex, tasks[5].ProductIndex)
	}
	if total := TotalCost(tasks); total != 6 {
		t.Fatalf("total cost = %d, want 6", total)
	}
}

func TestPlanWithImages(t *testing.T) {
	req := baseRequest()
	req.IncludeImages = true
	tasks, err := Plan(req, testTable(t))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	// 4 campaign text + 2 product copy + 1 main image + 2 product images.
	if len(tasks) != 9 {
		t.Fatalf("task count = %d, want 9", len(tasks))
	}
	if tasks[6].Kind != generationdomain.TaskKindMainImage {
		t.Fatalf("task 6 = %s, want main_image", tasks[6].Kind)
	}
	if tasks[7].Kind != generationdomain.TaskKindProductImage || tasks[8].Kind != generationdomain.TaskKindProductImage {
		t.Fatalf("tasks 7-8 = %s, %s", tasks[7].Kind, tasks[8].Kind)
	}
	for _, task := range tasks[6:] {
		if task.ProviderID != "stability" {
			t.Fatalf("image task provider = %q", task.ProviderID)
		}
		if task.CostCredits != 4 {
			t.Fatalf("image task cost = %d", task.CostCredits)
		}
	}
	if total := TotalCost(tasks); total != 18 {
		t.Fatalf("total cost = %d, want 18", total)
	}
}

func TestPlanAllTasksStartPlanned(t *testing.T) {
	tasks, err := Plan(baseRequest(), testTable(t))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	for i, task := range tasks {
		if task.Status != generationdomain.TaskStatusPlanned {
			t.Fatalf("task %d status = %s", i, task.Status)
		}
	}
}

func TestPlanUnpriceableTaskAborts(t *testing.T) {
	req := baseRequest()
	req.TextProviderID = "acme"
	_, err := Plan(req, testTable(t))
	if !errors.Is(err, costs.ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
}

func TestPlanValidation(t *testing.T) {
	table := testTable(t)

	req := baseRequest()
	req.AccountID = 0
	if _, err := Plan(req, table); err != generationdomain.ErrInvalidAccount {
		t.Fatalf("expected ErrInvalidAccount, got %v", err)
	}

	req = baseRequest()
	req.CampaignName = ""
	if _, err := Plan(req, table); err != generationdomain.ErrInvalidCampaign {
		t.Fatalf("expected ErrInvalidCampaign, got %v", err)
	}

	req = baseRequest()
	req.Products = nil
	if _, err := Plan(req, table); err != generationdomain.ErrNoProducts {
		t.Fatalf("expected ErrNoProducts, got %v", err)
	}
}
