package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// TaskKind identifies one metered unit of pipeline work.
type TaskKind string

const (
	TaskKindSubjectLine     TaskKind = "subject_line"
	TaskKindPreviewText     TaskKind = "preview_text"
	TaskKindMainHeadline    TaskKind = "main_headline"
	TaskKindMainDescription TaskKind = "main_description"
	TaskKindProductCopy     TaskKind = "product_copy"
	TaskKindMainImage       TaskKind = "main_image"
	TaskKindProductImage    TaskKind = "product_image"
)

// TextTaskKinds is the fixed campaign-level text sequence, in plan order.
var TextTaskKinds = []TaskKind{
	TaskKindSubjectLine,
	TaskKindPreviewText,
	TaskKindMainHeadline,
	TaskKindMainDescription,
}

// IsImage reports whether the task produces an image artifact.
func (k TaskKind) IsImage() bool {
	return k == TaskKindMainImage || k == TaskKindProductImage
}

// PerProduct reports whether the task repeats once per selected product.
func (k TaskKind) PerProduct() bool {
	return k == TaskKindProductCopy || k == TaskKindProductImage
}

// Valid reports whether the kind is one of the known task kinds.
func (k TaskKind) Valid() bool {
	switch k {
	case TaskKindSubjectLine, TaskKindPreviewText, TaskKindMainHeadline,
		TaskKindMainDescription, TaskKindProductCopy, TaskKindMainImage,
		TaskKindProductImage:
		return true
	}
	return false
}

// TaskStatus tracks a task through the reserve/refund state machine.
type TaskStatus string

const (
	TaskStatusPlanned   TaskStatus = "planned"
	TaskStatusReserved  TaskStatus = "reserved"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusRefunded  TaskStatus = "refunded"
)

// RunStatus is the overall outcome of one pipeline execution.
type RunStatus string

const (
	RunStatusRunning             RunStatus = "running"
	RunStatusCompleted           RunStatus = "completed"
	RunStatusCompletedWithErrors RunStatus = "completed_with_errors"
	RunStatusAborted             RunStatus = "aborted"
)

// Task is one planned unit of metered work. CostCredits is resolved once at
// plan time and reused verbatim for the reservation and any refund, so a cost
// table reload mid-run cannot cause drift.
type Task struct {
	Kind         TaskKind   `json:"kind"`
	ProductIndex int        `json:"product_index"`
	ProviderID   string     `json:"provider_id"`
	ModelID      string     `json:"model_id"`
	CostCredits  int64      `json:"cost_credits"`
	Status       TaskStatus `json:"status"`
	Artifact     string     `json:"artifact,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// ProviderRef renders the provider/model/task reference recorded on ledger
// transactions for this task.
func (t Task) ProviderRef() string {
	ref := t.ProviderID + "/" + t.ModelID + "/" + string(t.Kind)
	if t.Kind.PerProduct() {
		ref += fmt.Sprintf("#%d", t.ProductIndex)
	}
	return ref
}

// Label is the human-readable task name used in transaction descriptions.
func (t Task) Label() string {
	label := strings.ReplaceAll(string(t.Kind), "_", " ")
	if t.Kind.PerProduct() {
		label = fmt.Sprintf("%s (product %d)", label, t.ProductIndex+1)
	}
	return label
}

// Product is one selected product a campaign advertises.
type Product struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url,omitempty"`
}

// PlanRequest describes one campaign-generation request before expansion.
type PlanRequest struct {
	AccountID     snowflake.ID
	CampaignID    snowflake.ID
	CampaignName  string
	Tone          string
	Products      []Product
	IncludeImages bool

	TextProviderID  string
	TextModelID     string
	ImageProviderID string
	ImageModelID    string
}

// RunReport is the caller-facing result of one pipeline execution. Partial
// success is an expected outcome: succeeded artifacts are persisted even when
// other tasks failed.
type RunReport struct {
	RunID           snowflake.ID `json:"run_id"`
	CampaignID      snowflake.ID `json:"campaign_id"`
	Status          RunStatus    `json:"status"`
	Tasks           []Task       `json:"tasks"`
	CreditsSpent    int64        `json:"credits_spent"`
	CreditsRefunded int64        `json:"credits_refunded"`
	BalanceAfter    int64        `json:"balance_after"`
}

// Succeeded counts tasks that produced a kept artifact.
func (r RunReport) Succeeded() int {
	count := 0
	for _, task := range r.Tasks {
		if task.Status == TaskStatusSucceeded {
			count++
		}
	}
	return count
}

// Failed counts tasks that ended failed or refunded.
func (r RunReport) Failed() int {
	count := 0
	for _, task := range r.Tasks {
		if task.Status == TaskStatusFailed || task.Status == TaskStatusRefunded {
			count++
		}
	}
	return count
}

var (
	ErrInvalidCampaign = errors.New("invalid_campaign")
	ErrInvalidAccount  = errors.New("invalid_account")
	ErrNoProducts      = errors.New("no_products")
	ErrNoTasks         = errors.New("no_tasks")
)
