package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	campaigndomain "github.com/smallbiznis/mailforge/internal/campaign/domain"
	campaignrepository "github.com/smallbiznis/mailforge/internal/campaign/repository"
	"github.com/smallbiznis/mailforge/internal/clock"
	"github.com/smallbiznis/mailforge/internal/costs"
	generationdomain "github.com/smallbiznis/mailforge/internal/generation/domain"
	ledgerdomain "github.com/smallbiznis/mailforge/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/mailforge/internal/ledger/service"
	"github.com/smallbiznis/mailforge/internal/provider"
	providerdomain "github.com/smallbiznis/mailforge/internal/provider/domain"
)

type fakeClient struct {
	provider    string
	failKinds   map[generationdomain.TaskKind]bool
	failImages  bool
	beforeReply func()
	textCalls   int
	imageCalls  int
}

func (c *fakeClient) ProviderID() string { return c.provider }

func (c *fakeClient) GenerateText(ctx context.Context, req providerdomain.TextRequest) (*providerdomain.TextResult, error) {
	c.textCalls++
	if c.beforeReply != nil {
		c.beforeReply()
	}
	if c.failKinds[req.Kind] {
		return nil, &providerdomain.Error{
			Class:    providerdomain.ErrorClassTransient,
			Provider: c.provider,
			Message:  "upstream timeout",
		}
	}
	return &providerdomain.TextResult{
		Fields:        map[string]string{string(req.Kind): "generated " + string(req.Kind)},
		RealizedModel: "fake-model",
	}, nil
}

func (c *fakeClient) GenerateImage(ctx context.Context, req providerdomain.ImageRequest) (*providerdomain.ImageResult, error) {
	c.imageCalls++
	if c.beforeReply != nil {
		c.beforeReply()
	}
	if c.failImages {
		return nil, &providerdomain.Error{
			Class:    providerdomain.ErrorClassTransient,
			Provider: c.provider,
			Message:  "upstream timeout",
		}
	}
	return &providerdomain.ImageResult{ImageRef: "https://images.example/generated.png", RealizedModel: "fake-model"}, nil
}

// flakyLedger wraps a real ledger and makes refunds fail on demand.
type flakyLedger struct {
	ledgerdomain.Service
	failRefund bool
}

func (l *flakyLedger) Refund(ctx context.Context, req ledgerdomain.RefundRequest) (int64, error) {
	if l.failRefund {
		return 0, errors.New("database gone")
	}
	return l.Service.Refund(ctx, req)
}

type fixture struct {
	db        *gorm.DB
	ledger    ledgerdomain.Service
	campaigns campaigndomain.Store
	textStub  *fakeClient
	imageStub *fakeClient
	service   generationdomain.Service
}

const (
	testAccountID  snowflake.ID = 1
	testCampaignID snowflake.ID = 100
)

func setupFixture(t *testing.T, balance int64, mutate func(*fixture)) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_pragma=busy_timeout(5000)"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&ledgerdomain.CreditAccount{},
		&ledgerdomain.CreditTransaction{},
		&campaigndomain.Campaign{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new snowflake node: %v", err)
	}
	fixed := clock.Fixed{At: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}

	account := ledgerdomain.CreditAccount{ID: testAccountID, Name: "test", APIKeyHash: "hash", Balance: balance}
	if err := db.Create(&account).Error; err != nil {
		t.Fatalf("insert account: %v", err)
	}

	campaigns := campaignrepository.Provide(campaignrepository.Params{DB: db, Clock: fixed})
	if err := campaigns.Create(context.Background(), &campaigndomain.Campaign{
		ID:        testCampaignID,
		AccountID: testAccountID,
		Name:      "Spring Launch",
	}); err != nil {
		t.Fatalf("create campaign: %v", err)
	}

	f := &fixture{
		db:        db,
		campaigns: campaigns,
		ledger: ledgerservice.NewService(ledgerservice.Params{
			DB:    db,
			Log:   zap.NewNop(),
			GenID: node,
			Clock: fixed,
		}),
		textStub:  &fakeClient{provider: "openai"},
		imageStub: &fakeClient{provider: "stability"},
	}
	if mutate != nil {
		mutate(f)
	}

	table, err := costs.NewTable([]costs.Entry{
		{ProviderID: "openai", ModelID: "*", Kind: generationdomain.TaskKindSubjectLine, Credits: 2},
		{ProviderID: "openai", ModelID: "*", Kind: generationdomain.TaskKindPreviewText, Credits: 2},
		{ProviderID: "openai", ModelID: "*", Kind: generationdomain.TaskKindMainHeadline, Credits: 2},
		{ProviderID: "openai", ModelID: "*", Kind: generationdomain.TaskKindMainDescription, Credits: 2},
		{ProviderID: "openai", ModelID: "*", Kind: generationdomain.TaskKindProductCopy, Credits: 2},
		{ProviderID: "stability", ModelID: "*", Kind: generationdomain.TaskKindMainImage, Credits: 4},
		{ProviderID: "stability", ModelID: "*", Kind: generationdomain.TaskKindProductImage, Credits: 4},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	f.service = NewService(Params{
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     fixed,
		Ledger:    f.ledger,
		CostTable: table,
		Clients: provider.ClientSet{
			"openai":    f.textStub,
			"stability": f.imageStub,
		},
		Campaigns: f.campaigns,
	})
	return f
}

func textRequest(products int) generationdomain.PlanRequest {
	req := generationdomain.PlanRequest{
		AccountID:      testAccountID,
		CampaignID:     testCampaignID,
		CampaignName:   "Spring Launch",
		Tone:           "upbeat",
		TextProviderID: "openai",
		TextModelID:    "gpt-4o-mini",
	}
	for i := 0; i < products; i++ {
		req.Products = append(req.Products, generationdomain.Product{Name: "Product", Description: "Desc"})
	}
	return req
}

func countTransactions(t *testing.T, f *fixture, kind ledgerdomain.TransactionKind) int {
	t.Helper()
	var count int64
	err := f.db.Model(&ledgerdomain.CreditTransaction{}).
		Where("account_id = ? AND kind = ?", testAccountID, kind).
		Count(&count).Error
	if err != nil {
		t.Fatalf("count transactions: %v", err)
	}
	return int(count)
}

func TestGenerateAllTasksSucceed(t *testing.T) {
	f := setupFixture(t, 100, nil)

	// 4 campaign text tasks + 1 product copy, 2 credits each.
	report, err := f.service.Generate(context.Background(), textRequest(1))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if report.Status != generationdomain.RunStatusCompleted {
		t.Fatalf("status = %s", report.Status)
	}
	if report.Succeeded() != 5 || report.Failed() != 0 {
		t.Fatalf("succeeded = %d, failed = %d", report.Succeeded(), report.Failed())
	}
	if report.CreditsSpent != 10 || report.CreditsRefunded != 0 {
		t.Fatalf("spent = %d, refunded = %d", report.CreditsSpent, report.CreditsRefunded)
	}
	if report.BalanceAfter != 90 {
		t.Fatalf("balance after = %d", report.BalanceAfter)
	}

	campaign, err := f.campaigns.Get(context.Background(), testAccountID, testCampaignID)
	if err != nil {
		t.Fatalf("Get campaign: %v", err)
	}
	for _, key := range []string{"subject_line", "preview_text", "main_headline", "main_description", "product_copy.0"} {
		if _, ok := campaign.GeneratedFields[key]; !ok {
			t.Fatalf("missing generated field %s", key)
		}
	}
	if campaign.LastRunID == nil || *campaign.LastRunID != report.RunID {
		t.Fatalf("last run id = %v", campaign.LastRunID)
	}
	if got := countTransactions(t, f, ledgerdomain.TransactionKindUsage); got != 5 {
		t.Fatalf("usage transactions = %d", got)
	}
}

func TestGenerateWithImages(t *testing.T) {
	f := setupFixture(t, 100, nil)

	req := textRequest(1)
	req.IncludeImages = true
	req.ImageProviderID = "stability"
	req.ImageModelID = "sdxl"

	report, err := f.service.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if report.Status != generationdomain.RunStatusCompleted {
		t.Fatalf("status = %s", report.Status)
	}
	// 5 text tasks at 2 plus main image and one product image at 4.
	if report.CreditsSpent != 18 {
		t.Fatalf("spent = %d", report.CreditsSpent)
	}
	if f.imageStub.imageCalls != 2 {
		t.Fatalf("image calls = %d", f.imageStub.imageCalls)
	}

	campaign, err := f.campaigns.Get(context.Background(), testAccountID, testCampaignID)
	if err != nil {
		t.Fatalf("Get campaign: %v", err)
	}
	if campaign.GeneratedFields["main_image"] != "https://images.example/generated.png" {
		t.Fatalf("main image = %v", campaign.GeneratedFields["main_image"])
	}
	if _, ok := campaign.GeneratedFields["product_image.0"]; !ok {
		t.Fatal("missing product image artifact")
	}
}

func TestPartialFailureRefundsAndContinues(t *testing.T) {
	f := setupFixture(t, 10, func(f *fixture) {
		f.textStub.failKinds = map[generationdomain.TaskKind]bool{
			generationdomain.TaskKindMainHeadline: true,
		}
	})

	report, err := f.service.Generate(context.Background(), textRequest(1))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if report.Status != generationdomain.RunStatusCompletedWithErrors {
		t.Fatalf("status = %s", report.Status)
	}
	if report.Succeeded() != 4 || report.Failed() != 1 {
		t.Fatalf("succeeded = %d, failed = %d", report.Succeeded(), report.Failed())
	}
	if report.CreditsSpent != 8 || report.CreditsRefunded != 2 {
		t.Fatalf("spent = %d, refunded = %d", report.CreditsSpent, report.CreditsRefunded)
	}
	if report.BalanceAfter != 2 {
		t.Fatalf("balance after = %d", report.BalanceAfter)
	}

	// The failed reservation still logged a usage row, matched by its refund.
	if got := countTransactions(t, f, ledgerdomain.TransactionKindUsage); got != 5 {
		t.Fatalf("usage transactions = %d", got)
	}
	if got := countTransactions(t, f, ledgerdomain.TransactionKindRefund); got != 1 {
		t.Fatalf("refund transactions = %d", got)
	}

	campaign, err := f.campaigns.Get(context.Background(), testAccountID, testCampaignID)
	if err != nil {
		t.Fatalf("Get campaign: %v", err)
	}
	if _, ok := campaign.GeneratedFields["main_headline"]; ok {
		t.Fatal("failed task must not leave an artifact")
	}
	if campaign.GenerationErrors["main_headline"] != "upstream timeout" {
		t.Fatalf("generation error = %v", campaign.GenerationErrors["main_headline"])
	}
	if campaign.LastRunStatus != string(generationdomain.RunStatusCompletedWithErrors) {
		t.Fatalf("last run status = %q", campaign.LastRunStatus)
	}
}

func TestInsufficientCreditsFailsTaskAndContinues(t *testing.T) {
	// Balance covers exactly three of the five 2-credit tasks.
	f := setupFixture(t, 6, nil)

	report, err := f.service.Generate(context.Background(), textRequest(1))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if report.Status != generationdomain.RunStatusCompletedWithErrors {
		t.Fatalf("status = %s", report.Status)
	}
	if report.Succeeded() != 3 || report.Failed() != 2 {
		t.Fatalf("succeeded = %d, failed = %d", report.Succeeded(), report.Failed())
	}
	if report.BalanceAfter != 0 {
		t.Fatalf("balance after = %d", report.BalanceAfter)
	}
	// Declined reservations leave no transaction trace.
	if got := countTransactions(t, f, ledgerdomain.TransactionKindUsage); got != 3 {
		t.Fatalf("usage transactions = %d", got)
	}
	if got := countTransactions(t, f, ledgerdomain.TransactionKindRefund); got != 0 {
		t.Fatalf("refund transactions = %d", got)
	}
	for _, task := range report.Tasks[3:] {
		if task.Status != generationdomain.TaskStatusFailed || task.Error != "insufficient credits" {
			t.Fatalf("task %s status = %s error = %q", task.Kind, task.Status, task.Error)
		}
	}
}

func TestUnconfiguredProviderFailsWithoutReserving(t *testing.T) {
	f := setupFixture(t, 100, nil)

	req := textRequest(1)
	req.IncludeImages = true
	req.ImageProviderID = "midjourney"
	req.ImageModelID = "v6"

	// The plan still needs a price for the unroutable provider.
	table, err := costs.NewTable([]costs.Entry{
		{ProviderID: "openai", ModelID: "*", Kind: generationdomain.TaskKindSubjectLine, Credits: 2},
		{ProviderID: "openai", ModelID: "*", Kind: generationdomain.TaskKindPreviewText, Credits: 2},
		{ProviderID: "openai", ModelID: "*", Kind: generationdomain.TaskKindMainHeadline, Credits: 2},
		{ProviderID: "openai", ModelID: "*", Kind: generationdomain.TaskKindMainDescription, Credits: 2},
		{ProviderID: "openai", ModelID: "*", Kind: generationdomain.TaskKindProductCopy, Credits: 2},
		{ProviderID: "midjourney", ModelID: "*", Kind: generationdomain.TaskKindMainImage, Credits: 4},
		{ProviderID: "midjourney", ModelID: "*", Kind: generationdomain.TaskKindProductImage, Credits: 4},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	node, err := snowflake.NewNode(2)
	if err != nil {
		t.Fatalf("new snowflake node: %v", err)
	}
	svc := NewService(Params{
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     clock.Fixed{At: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
		Ledger:    f.ledger,
		CostTable: table,
		Clients:   provider.ClientSet{"openai": f.textStub},
		Campaigns: f.campaigns,
	})

	report, err := svc.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if report.Status != generationdomain.RunStatusCompletedWithErrors {
		t.Fatalf("status = %s", report.Status)
	}
	if report.Succeeded() != 5 || report.Failed() != 2 {
		t.Fatalf("succeeded = %d, failed = %d", report.Succeeded(), report.Failed())
	}
	// Unroutable tasks never touch the ledger.
	if got := countTransactions(t, f, ledgerdomain.TransactionKindUsage); got != 5 {
		t.Fatalf("usage transactions = %d", got)
	}
	if report.BalanceAfter != 90 {
		t.Fatalf("balance after = %d", report.BalanceAfter)
	}
}

func TestRefundFailureAbortsRun(t *testing.T) {
	f := setupFixture(t, 100, func(f *fixture) {
		f.textStub.failKinds = map[generationdomain.TaskKind]bool{
			generationdomain.TaskKindPreviewText: true,
		}
		f.ledger = &flakyLedger{Service: f.ledger, failRefund: true}
	})

	report, err := f.service.Generate(context.Background(), textRequest(1))
	if err == nil {
		t.Fatal("expected run to abort")
	}
	if report == nil {
		t.Fatal("abort must still return the partial report")
	}
	if report.Status != generationdomain.RunStatusAborted {
		t.Fatalf("status = %s", report.Status)
	}
	// Task 1 succeeded before the failing refund on task 2; later tasks never ran.
	if report.Succeeded() != 1 {
		t.Fatalf("succeeded = %d", report.Succeeded())
	}
	for _, task := range report.Tasks[2:] {
		if task.Status != generationdomain.TaskStatusPlanned {
			t.Fatalf("task %s status = %s", task.Kind, task.Status)
		}
	}
}

func TestCancelledCallerStillGetsRefund(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The caller disconnects while the first provider call is in flight and
	// the call then fails. The refund must still land.
	f := setupFixture(t, 10, func(f *fixture) {
		f.textStub.failKinds = map[generationdomain.TaskKind]bool{
			generationdomain.TaskKindSubjectLine: true,
		}
		f.textStub.beforeReply = cancel
	})

	report, err := f.service.Generate(ctx, textRequest(1))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if report == nil {
		t.Fatal("abort must still return the partial report")
	}
	if report.Status != generationdomain.RunStatusAborted {
		t.Fatalf("status = %s", report.Status)
	}
	if report.Tasks[0].Status != generationdomain.TaskStatusRefunded {
		t.Fatalf("task 0 status = %s", report.Tasks[0].Status)
	}
	if report.CreditsRefunded != 2 {
		t.Fatalf("refunded = %d", report.CreditsRefunded)
	}
	for _, task := range report.Tasks[1:] {
		if task.Status != generationdomain.TaskStatusPlanned {
			t.Fatalf("task %s status = %s", task.Kind, task.Status)
		}
	}
	if got := countTransactions(t, f, ledgerdomain.TransactionKindUsage); got != 1 {
		t.Fatalf("usage transactions = %d", got)
	}
	if got := countTransactions(t, f, ledgerdomain.TransactionKindRefund); got != 1 {
		t.Fatalf("refund transactions = %d", got)
	}
	balance, err := f.ledger.GetBalance(context.Background(), testAccountID)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if balance != 10 {
		t.Fatalf("balance = %d", balance)
	}
}

func TestCampaignDeletedMidRunAborts(t *testing.T) {
	f := setupFixture(t, 100, nil)

	// The campaign row disappears between planning and the first persist.
	if err := f.db.Delete(&campaigndomain.Campaign{}, "id = ?", testCampaignID).Error; err != nil {
		t.Fatalf("delete campaign: %v", err)
	}

	report, err := f.service.Generate(context.Background(), textRequest(1))
	if !errors.Is(err, campaigndomain.ErrCampaignNotFound) {
		t.Fatalf("expected ErrCampaignNotFound, got %v", err)
	}
	if report == nil {
		t.Fatal("abort must still return the partial report")
	}
	if report.Status != generationdomain.RunStatusAborted {
		t.Fatalf("status = %s", report.Status)
	}
	// Only the first task paid for a provider call, and it was refunded.
	if f.textStub.textCalls != 1 {
		t.Fatalf("provider calls = %d", f.textStub.textCalls)
	}
	if report.Tasks[0].Status != generationdomain.TaskStatusRefunded {
		t.Fatalf("task 0 status = %s", report.Tasks[0].Status)
	}
	for _, task := range report.Tasks[1:] {
		if task.Status != generationdomain.TaskStatusPlanned {
			t.Fatalf("task %s status = %s", task.Kind, task.Status)
		}
	}
	if got := countTransactions(t, f, ledgerdomain.TransactionKindUsage); got != 1 {
		t.Fatalf("usage transactions = %d", got)
	}
	if got := countTransactions(t, f, ledgerdomain.TransactionKindRefund); got != 1 {
		t.Fatalf("refund transactions = %d", got)
	}
	balance, err := f.ledger.GetBalance(context.Background(), testAccountID)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if balance != 100 {
		t.Fatalf("balance = %d", balance)
	}
}

func TestGenerateUnpriceablePlanRunsNothing(t *testing.T) {
	f := setupFixture(t, 100, nil)

	req := textRequest(1)
	req.TextProviderID = "acme"
	_, err := f.service.Generate(context.Background(), req)
	if !errors.Is(err, costs.ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
	if f.textStub.textCalls != 0 {
		t.Fatalf("provider called %d times for an unpriceable plan", f.textStub.textCalls)
	}
	if got := countTransactions(t, f, ledgerdomain.TransactionKindUsage); got != 0 {
		t.Fatalf("usage transactions = %d", got)
	}
}
