package domain

import "context"

// GenerationService runs the metered pipeline for one campaign request.
// Per-task failures are reported in the RunReport, never returned as errors;
// only fatal conditions (ledger store loss, vanished campaign) surface here.
type GenerationService interface {
	Generate(ctx context.Context, req PlanRequest) (*RunReport, error)
}

// Service is the package alias for GenerationService.
type Service = GenerationService
