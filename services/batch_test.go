package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/hanmadi-app/hanmadi_api/dto"
	"github.com/hanmadi-app/hanmadi_api/model"
)

var testDBSeq int

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	testDBSeq++
	dsn := fmt.Sprintf("file:batchtest%d?mode=memory&cache=shared", testDBSeq)
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&model.BatchJob{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testBatchService(t *testing.T, now *time.Time) *BatchService {
	t.Helper()
	return &BatchService{
		sqlSvc:        &SqliteService{db: openTestDB(t)},
		queueSvc:      &QueueService{},
		leaseDuration: 10 * time.Minute,
		now:           func() time.Time { return *now },
	}
}

func testSubmitRequest() dto.SubmitBatchRequest {
	req := dto.SubmitBatchRequest{
		SessionID: "sess_1",
		MessageID: "msg_1",
		ModelID:   "test/model",
		Messages: []dto.ChatMessage{
			{Role: "user", Content: "hello"},
		},
	}
	req.Normalize()
	return req
}

func TestBatch_SubmitIsIdempotent(t *testing.T) {
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	svc := testBatchService(t, &now)

	first, err := svc.Submit(context.Background(), "usr_owner", testSubmitRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if first.Duplicate {
		t.Fatalf("first submit should not be a duplicate")
	}
	if first.Status != string(model.JobPending) {
		t.Fatalf("status = %q, want pending", first.Status)
	}

	second, err := svc.Submit(context.Background(), "usr_owner", testSubmitRequest())
	if err != nil {
		t.Fatalf("duplicate submit: %v", err)
	}
	if !second.Duplicate {
		t.Fatalf("second submit should report duplicate")
	}
	if second.JobID != first.JobID {
		t.Fatalf("duplicate returned job %q, want %q", second.JobID, first.JobID)
	}

	var count int64
	if err := svc.sqlSvc.Db().Model(&model.BatchJob{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("job rows = %d, want 1", count)
	}
}

func TestBatch_SameMessageDifferentSession(t *testing.T) {
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	svc := testBatchService(t, &now)

	first, err := svc.Submit(context.Background(), "usr_owner", testSubmitRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	req := testSubmitRequest()
	req.SessionID = "sess_2"
	second, err := svc.Submit(context.Background(), "usr_owner", req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if second.Duplicate || second.JobID == first.JobID {
		t.Fatalf("different session should create a new job")
	}
}

func TestBatch_ClaimIsExclusive(t *testing.T) {
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	svc := testBatchService(t, &now)

	submitted, err := svc.Submit(context.Background(), "usr_owner", testSubmitRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	job, err := svc.Claim(context.Background(), submitted.JobID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job == nil {
		t.Fatalf("first claim should win")
	}
	if job.Status != model.JobProcessing {
		t.Fatalf("status = %q, want processing", job.Status)
	}
	if job.ClaimedAt == nil {
		t.Fatalf("claim should record claimed_at")
	}

	again, err := svc.Claim(context.Background(), submitted.JobID)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if again != nil {
		t.Fatalf("second claim should lose")
	}
}

func TestBatch_CompleteAndStatus(t *testing.T) {
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	svc := testBatchService(t, &now)

	submitted, err := svc.Submit(context.Background(), "usr_owner", testSubmitRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.Claim(context.Background(), submitted.JobID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := svc.Complete(context.Background(), submitted.JobID, "answer text"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	status, err := svc.GetStatus(context.Background(), "usr_owner", submitted.JobID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status == nil {
		t.Fatalf("status should find the job")
	}
	if status.Status != string(model.JobCompleted) {
		t.Fatalf("status = %q, want completed", status.Status)
	}
	if status.Result == nil || *status.Result != "answer text" {
		t.Fatalf("result = %v, want answer text", status.Result)
	}
	if status.CompletedAt == nil {
		t.Fatalf("completed_at should be set")
	}
}

func TestBatch_FailRecordsError(t *testing.T) {
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	svc := testBatchService(t, &now)

	submitted, err := svc.Submit(context.Background(), "usr_owner", testSubmitRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.Claim(context.Background(), submitted.JobID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := svc.Fail(context.Background(), submitted.JobID, "model unreachable"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	status, err := svc.GetStatus(context.Background(), "usr_owner", submitted.JobID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Status != string(model.JobFailed) {
		t.Fatalf("status = %q, want failed", status.Status)
	}
	if status.ErrorMessage == nil || *status.ErrorMessage != "model unreachable" {
		t.Fatalf("error_message = %v, want model unreachable", status.ErrorMessage)
	}
}

func TestBatch_CompleteRequiresProcessing(t *testing.T) {
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	svc := testBatchService(t, &now)

	submitted, err := svc.Submit(context.Background(), "usr_owner", testSubmitRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Finishing an unclaimed job is a no-op, the row stays pending.
	if err := svc.Complete(context.Background(), submitted.JobID, "x"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	status, err := svc.GetStatus(context.Background(), "usr_owner", submitted.JobID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Status != string(model.JobPending) {
		t.Fatalf("status = %q, want pending", status.Status)
	}
}

func TestBatch_StatusUnknownJob(t *testing.T) {
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	svc := testBatchService(t, &now)

	status, err := svc.GetStatus(context.Background(), "usr_owner", "missing")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != nil {
		t.Fatalf("unknown job should return nil")
	}
}

func TestBatch_StatusHidesOtherUsersJobs(t *testing.T) {
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	svc := testBatchService(t, &now)

	submitted, err := svc.Submit(context.Background(), "usr_owner", testSubmitRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	status, err := svc.GetStatus(context.Background(), "usr_other", submitted.JobID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != nil {
		t.Fatalf("job should be invisible to another user")
	}
}

func TestBatch_SweepExpiredLeases(t *testing.T) {
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	svc := testBatchService(t, &now)

	submitted, err := svc.Submit(context.Background(), "usr_owner", testSubmitRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.Claim(context.Background(), submitted.JobID); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Inside the lease nothing happens.
	count, err := svc.SweepExpiredLeases(context.Background(), now.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if count != 0 {
		t.Fatalf("swept = %d, want 0", count)
	}

	count, err = svc.SweepExpiredLeases(context.Background(), now.Add(11*time.Minute))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if count != 1 {
		t.Fatalf("swept = %d, want 1", count)
	}

	status, err := svc.GetStatus(context.Background(), "usr_owner", submitted.JobID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Status != string(model.JobFailed) {
		t.Fatalf("status = %q, want failed", status.Status)
	}
	if status.ErrorMessage == nil || *status.ErrorMessage != "processing lease expired" {
		t.Fatalf("error_message = %v", status.ErrorMessage)
	}
}
