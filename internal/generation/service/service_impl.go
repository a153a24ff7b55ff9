package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"

	campaigndomain "github.com/smallbiznis/mailforge/internal/campaign/domain"
	"github.com/smallbiznis/mailforge/internal/clock"
	"github.com/smallbiznis/mailforge/internal/costs"
	"github.com/smallbiznis/mailforge/internal/events"
	generationdomain "github.com/smallbiznis/mailforge/internal/generation/domain"
	"github.com/smallbiznis/mailforge/internal/generation/planner"
	ledgerdomain "github.com/smallbiznis/mailforge/internal/ledger/domain"
	"github.com/smallbiznis/mailforge/internal/observability/tracing"
	"github.com/smallbiznis/mailforge/internal/provider"
	providerdomain "github.com/smallbiznis/mailforge/internal/provider/domain"
)

type Params struct {
	fx.In

	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Ledger    ledgerdomain.Service
	CostTable *costs.Table
	Clients   provider.ClientSet
	Campaigns campaigndomain.Store
	Outbox    *events.Outbox `optional:"true"`
}

// Service runs the generation pipeline for one campaign: plan the task
// sequence, then walk it task by task, reserving credits before each provider
// call and refunding when the call fails. Task failures do not stop the run;
// only ledger infrastructure failures abort it.
type Service struct {
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	ledger    ledgerdomain.Service
	costTable *costs.Table
	clients   provider.ClientSet
	campaigns campaigndomain.Store
	outbox    *events.Outbox
}

const cleanupTimeout = 10 * time.Second

// cleanupContext detaches ledger and campaign writes that settle a live
// reservation from caller cancellation. A dropped request must not leave the
// account charged for work it never received.
func cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
}

func NewService(p Params) generationdomain.GenerationService {
	return &Service{
		log:       p.Log.Named("generation.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		ledger:    p.Ledger,
		costTable: p.CostTable,
		clients:   p.Clients,
		campaigns: p.Campaigns,
		outbox:    p.Outbox,
	}
}

func (s *Service) Generate(ctx context.Context, req generationdomain.PlanRequest) (*generationdomain.RunReport, error) {
	tasks, err := planner.Plan(req, s.costTable)
	if err != nil {
		return nil, err
	}

	runID := s.genID.Generate()
	log := s.log.With(
		zap.String("run_id", runID.String()),
		zap.String("campaign_id", req.CampaignID.String()),
		zap.String("account_id", req.AccountID.String()),
	)

	ctx, span := otel.Tracer("mailforge/generation").Start(ctx, "generation.run")
	defer span.End()
	span.SetAttributes(tracing.SafeAttributes(
		tracing.AccountID(req.AccountID.String()),
		tracing.RunID(runID.String()),
	)...)

	log.Info("generation run started",
		zap.Int("tasks", len(tasks)),
		zap.Int64("planned_cost", planner.TotalCost(tasks)),
	)

	report := &generationdomain.RunReport{
		RunID:      runID,
		CampaignID: req.CampaignID,
		Status:     generationdomain.RunStatusRunning,
		Tasks:      tasks,
	}

	var abortErr error
	for i := range report.Tasks {
		if err := s.runTask(ctx, req, runID, &report.Tasks[i], report); err != nil {
			abortErr = err
			break
		}
	}

	report.Status = finalStatus(report, abortErr != nil)

	// Finalization still runs when the caller has gone away.
	finCtx, cancelFin := cleanupContext(ctx)
	defer cancelFin()

	if err := s.campaigns.RecordRun(finCtx, req.CampaignID, runID, report.Status); err != nil {
		log.Error("record run on campaign failed", zap.Error(err))
	}
	if balance, err := s.ledger.GetBalance(finCtx, req.AccountID); err == nil {
		report.BalanceAfter = balance
	} else {
		log.Error("read final balance failed", zap.Error(err))
	}

	s.publishRunEvent(finCtx, req.AccountID, report)

	log.Info("generation run finished",
		zap.String("status", string(report.Status)),
		zap.Int("succeeded", report.Succeeded()),
		zap.Int("failed", report.Failed()),
		zap.Int64("credits_spent", report.CreditsSpent),
		zap.Int64("credits_refunded", report.CreditsRefunded),
	)

	if abortErr != nil {
		return report, abortErr
	}
	return report, nil
}

// runTask drives one task through reserve, provider call, and keep-or-refund.
// A non-nil return aborts the run; task-level failures are recorded on the
// task and return nil.
func (s *Service) runTask(ctx context.Context, req generationdomain.PlanRequest, runID snowflake.ID, task *generationdomain.Task, report *generationdomain.RunReport) error {
	ctx, span := otel.Tracer("mailforge/generation").Start(ctx, "generation.task")
	defer span.End()
	span.SetAttributes(tracing.SafeAttributes(
		tracing.TaskKind(string(task.Kind)),
	)...)

	log := s.log.With(
		zap.String("run_id", runID.String()),
		zap.String("task", string(task.Kind)),
		zap.Int("product_index", task.ProductIndex),
	)

	client, err := s.clients.Client(task.ProviderID)
	if err != nil {
		task.Status = generationdomain.TaskStatusFailed
		task.Error = fmt.Sprintf("provider %s is not configured", task.ProviderID)
		s.markError(ctx, req.CampaignID, task, log)
		return nil
	}

	if err := ctx.Err(); err != nil {
		task.Status = generationdomain.TaskStatusFailed
		task.Error = "run cancelled"
		return err
	}

	_, err = s.ledger.Reserve(ctx, ledgerdomain.ReserveRequest{
		AccountID:   req.AccountID,
		Amount:      task.CostCredits,
		Description: "generation: " + task.Label(),
		ProviderRef: task.ProviderRef(),
	})
	if errors.Is(err, ledgerdomain.ErrInsufficientCredits) {
		task.Status = generationdomain.TaskStatusFailed
		task.Error = "insufficient credits"
		s.markError(ctx, req.CampaignID, task, log)
		log.Warn("reservation declined", zap.Int64("cost", task.CostCredits))
		return nil
	}
	if err != nil {
		// Reservation infrastructure failure. Nothing was deducted, but the
		// ledger cannot be trusted for the rest of the run.
		task.Status = generationdomain.TaskStatusFailed
		task.Error = "reservation failed"
		log.Error("reservation failed", zap.Error(err))
		return err
	}
	task.Status = generationdomain.TaskStatusReserved

	artifact, callErr := s.callProvider(ctx, client, req, task)
	if callErr == nil {
		persistErr := s.persistArtifact(ctx, req.CampaignID, task, artifact)
		if persistErr == nil {
			task.Status = generationdomain.TaskStatusSucceeded
			task.Artifact = artifact
			report.CreditsSpent += task.CostCredits
			return nil
		}
		callErr = fmt.Errorf("persist artifact: %w", persistErr)
	}

	// The reservation is live but the work is not kept. Credit back the exact
	// reserved amount. The cleanup writes run on a detached context so a
	// cancelled caller cannot make the refund itself fail.
	cleanupCtx, cancelCleanup := cleanupContext(ctx)
	defer cancelCleanup()

	task.Error = providerErrorMessage(callErr)
	s.markError(cleanupCtx, req.CampaignID, task, log)
	log.Warn("task failed, refunding", zap.Error(callErr))

	_, refundErr := s.ledger.Refund(cleanupCtx, ledgerdomain.RefundRequest{
		AccountID:   req.AccountID,
		Amount:      task.CostCredits,
		Description: "refund: " + task.Label(),
		ProviderRef: task.ProviderRef(),
	})
	if refundErr != nil {
		// The account keeps a charge for work it never received. Surface it
		// loudly for manual reconciliation and stop the run.
		task.Status = generationdomain.TaskStatusFailed
		log.Error("RECONCILIATION REQUIRED: refund failed after task failure",
			zap.Int64("amount", task.CostCredits),
			zap.String("provider_ref", task.ProviderRef()),
			zap.Error(refundErr),
		)
		return refundErr
	}
	task.Status = generationdomain.TaskStatusRefunded
	report.CreditsRefunded += task.CostCredits

	if errors.Is(callErr, campaigndomain.ErrCampaignNotFound) {
		// The aggregate row is gone; no later task can persist its artifact.
		log.Error("campaign deleted mid-run", zap.Error(callErr))
		return callErr
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

func (s *Service) callProvider(ctx context.Context, client providerdomain.Client, req generationdomain.PlanRequest, task *generationdomain.Task) (string, error) {
	prompt := providerdomain.PromptContext{
		CampaignName: req.CampaignName,
		Tone:         req.Tone,
	}
	if task.Kind.PerProduct() {
		if task.ProductIndex >= len(req.Products) {
			return "", fmt.Errorf("product index %d out of range", task.ProductIndex)
		}
		product := req.Products[task.ProductIndex]
		prompt.ProductName = product.Name
		prompt.ProductDescription = product.Description
	}

	if task.Kind.IsImage() {
		result, err := client.GenerateImage(ctx, providerdomain.ImageRequest{Prompt: prompt})
		if err != nil {
			return "", err
		}
		return result.ImageRef, nil
	}

	result, err := client.GenerateText(ctx, providerdomain.TextRequest{Kind: task.Kind, Prompt: prompt})
	if err != nil {
		return "", err
	}
	artifact, ok := result.Fields[string(task.Kind)]
	if !ok || artifact == "" {
		return "", fmt.Errorf("provider returned no %s field", task.Kind)
	}
	return artifact, nil
}

func (s *Service) persistArtifact(ctx context.Context, campaignID snowflake.ID, task *generationdomain.Task, artifact string) error {
	return s.campaigns.WriteGeneratedField(ctx, campaignID, task.Kind, task.ProductIndex, artifact)
}

func (s *Service) markError(ctx context.Context, campaignID snowflake.ID, task *generationdomain.Task, log *zap.Logger) {
	if err := s.campaigns.MarkGenerationError(ctx, campaignID, task.Kind, task.ProductIndex, task.Error); err != nil {
		log.Error("record task error on campaign failed", zap.Error(err))
	}
}

func (s *Service) publishRunEvent(ctx context.Context, accountID snowflake.ID, report *generationdomain.RunReport) {
	if s.outbox == nil {
		return
	}
	eventType := events.EventGenerationCompleted
	if report.Status == generationdomain.RunStatusAborted {
		eventType = events.EventGenerationAborted
	}
	err := s.outbox.Publish(ctx, events.Event{
		AccountID: accountID,
		Type:      eventType,
		Payload: events.GenerationRunPayload{
			RunID:           report.RunID.String(),
			CampaignID:      report.CampaignID.String(),
			Status:          string(report.Status),
			TasksSucceeded:  report.Succeeded(),
			TasksFailed:     report.Failed(),
			CreditsSpent:    report.CreditsSpent,
			CreditsRefunded: report.CreditsRefunded,
		}.Map(),
		DedupeKey: "generation:" + report.RunID.String(),
	})
	if err != nil {
		s.log.Error("publish run event failed",
			zap.String("run_id", report.RunID.String()),
			zap.Error(err),
		)
	}
}

func finalStatus(report *generationdomain.RunReport, aborted bool) generationdomain.RunStatus {
	if aborted {
		return generationdomain.RunStatusAborted
	}
	if report.Failed() > 0 {
		return generationdomain.RunStatusCompletedWithErrors
	}
	return generationdomain.RunStatusCompleted
}

func providerErrorMessage(err error) string {
	if typed, ok := providerdomain.AsError(err); ok {
		return typed.Message
	}
	if err != nil {
		return err.Error()
	}
	return "unknown failure"
}
