// services/batch.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/hanmadi-app/hanmadi_api/dto"
	"github.com/hanmadi-app/hanmadi_api/model"
	"github.com/hanmadi-app/hanmadi_api/shared"
)

// BatchService owns the batch job lifecycle. Submits are idempotent on the
// (user, session, message) key, claims hand each pending job to exactly one
// worker, and completions only land on jobs still held by their claimer.
type BatchService struct {
	appContext.DefaultService

	sqlSvc   *SqliteService
	queueSvc *QueueService

	leaseDuration time.Duration
	now           func() time.Time
}

const BATCH_SVC = "batch_svc"

func (svc BatchService) Id() string {
	return BATCH_SVC
}

func (svc *BatchService) Configure(ctx *appContext.Context) error {
	svc.now = time.Now
	svc.leaseDuration = envDuration("BATCH_LEASE", 10*time.Minute)
	return svc.DefaultService.Configure(ctx)
}

func (svc *BatchService) Start() error {
	svc.sqlSvc = svc.Service(SQLITE_SVC).(*SqliteService)
	svc.queueSvc = svc.Service(QUEUE_SVC).(*QueueService)
	return nil
}

// Submit registers a new job or returns the existing one for the same key.
// The unique index is the arbiter: when two submits race, one insert wins
// and the loser reads the winner's row back.
func (svc *BatchService) Submit(ctx context.Context, userID string, req dto.SubmitBatchRequest) (*dto.SubmitBatchResponse, error) {
	messages, err := json.Marshal(req.Messages)
	if err != nil {
		return nil, shared.NewBadRequestError(err, "invalid messages payload")
	}

	jobID, err := uuid.NewV7()
	if err != nil {
		return nil, shared.NewStorageError(err)
	}

	now := svc.now()
	job := &model.BatchJob{
		ID:          jobID.String(),
		UserID:      userID,
		SessionID:   req.SessionID,
		MessageID:   req.MessageID,
		ModelID:     req.ModelID,
		Messages:    messages,
		Language:    req.Language,
		SpeechLevel: req.SpeechLevel,
		Status:      model.JobPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = svc.sqlSvc.Db().WithContext(ctx).Create(job).Error
	if err != nil {
		if isDuplicateKey(err) {
			existing, getErr := svc.getByKey(ctx, userID, req.SessionID, req.MessageID)
			if getErr != nil {
				return nil, shared.NewStorageError(getErr)
			}
			batchJobsTotal.WithLabelValues("duplicate").Inc()
			return &dto.SubmitBatchResponse{
				JobID:     existing.ID,
				Status:    string(existing.Status),
				Duplicate: true,
			}, nil
		}
		return nil, shared.NewStorageError(svc.sqlSvc.HandleError(err))
	}

	batchJobsTotal.WithLabelValues("submitted").Inc()

	if err := svc.queueSvc.PublishJob(ctx, job.ID); err != nil {
		// Enqueue failures are recoverable: the lease sweeper or a manual
		// requeue picks the job up later, so the submit still succeeds.
		log.WithError(err).WithField("job_id", job.ID).Error("Failed to publish job to queue")
	}

	return &dto.SubmitBatchResponse{
		JobID:  job.ID,
		Status: string(job.Status),
	}, nil
}

// GetStatus looks a job up by id for its owner. Returns nil when the job
// does not exist or belongs to someone else.
func (svc *BatchService) GetStatus(ctx context.Context, userID, jobID string) (*dto.BatchStatusResponse, error) {
	var job model.BatchJob
	err := svc.sqlSvc.Db().WithContext(ctx).
		Where("id = ? AND user_id = ?", jobID, userID).
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, shared.NewStorageError(svc.sqlSvc.HandleError(err))
	}

	return &dto.BatchStatusResponse{
		JobID:        job.ID,
		Status:       string(job.Status),
		Result:       job.Result,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		CompletedAt:  job.CompletedAt,
	}, nil
}

// GetStatusByKey looks a job up by its idempotency key, the handle a client
// holds before it ever sees a job id.
func (svc *BatchService) GetStatusByKey(ctx context.Context, userID, sessionID, messageID string) (*dto.BatchStatusResponse, error) {
	job, err := svc.getByKey(ctx, userID, sessionID, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, shared.NewStorageError(svc.sqlSvc.HandleError(err))
	}

	return &dto.BatchStatusResponse{
		JobID:        job.ID,
		Status:       string(job.Status),
		Result:       job.Result,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		CompletedAt:  job.CompletedAt,
	}, nil
}

// Claim moves a pending job to processing. The WHERE clause on the current
// status makes the transition atomic: of N racing workers exactly one sees
// RowsAffected == 1.
func (svc *BatchService) Claim(ctx context.Context, jobID string) (*model.BatchJob, error) {
	now := svc.now()
	res := svc.sqlSvc.Db().WithContext(ctx).
		Model(&model.BatchJob{}).
		Where("id = ? AND status = ?", jobID, model.JobPending).
		Updates(map[string]interface{}{
			"status":     model.JobProcessing,
			"claimed_at": now,
			"updated_at": now,
		})
	if res.Error != nil {
		return nil, svc.sqlSvc.HandleError(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}

	var job model.BatchJob
	if err := svc.sqlSvc.Db().WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		return nil, svc.sqlSvc.HandleError(err)
	}
	batchJobsTotal.WithLabelValues("claimed").Inc()
	return &job, nil
}

// Complete finishes a processing job with its result.
func (svc *BatchService) Complete(ctx context.Context, jobID, result string) error {
	return svc.finish(ctx, jobID, model.JobCompleted, map[string]interface{}{
		"result": result,
	})
}

// Fail finishes a processing job with an error message.
func (svc *BatchService) Fail(ctx context.Context, jobID, errorMessage string) error {
	return svc.finish(ctx, jobID, model.JobFailed, map[string]interface{}{
		"error_message": errorMessage,
	})
}

func (svc *BatchService) finish(ctx context.Context, jobID string, status model.JobStatus, fields map[string]interface{}) error {
	now := svc.now()
	fields["status"] = status
	fields["completed_at"] = now
	fields["updated_at"] = now

	res := svc.sqlSvc.Db().WithContext(ctx).
		Model(&model.BatchJob{}).
		Where("id = ? AND status = ?", jobID, model.JobProcessing).
		Updates(fields)
	if res.Error != nil {
		return svc.sqlSvc.HandleError(res.Error)
	}
	if res.RowsAffected == 0 {
		log.WithFields(log.Fields{
			"job_id": jobID,
			"status": status,
		}).Warn("Job finish skipped, no processing row matched")
		return nil
	}
	batchJobsTotal.WithLabelValues(string(status)).Inc()
	return nil
}

// SweepExpiredLeases fails jobs whose worker went silent past the lease.
func (svc *BatchService) SweepExpiredLeases(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-svc.leaseDuration)
	res := svc.sqlSvc.Db().WithContext(ctx).
		Model(&model.BatchJob{}).
		Where("status = ? AND claimed_at < ?", model.JobProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":        model.JobFailed,
			"error_message": "processing lease expired",
			"completed_at":  now,
			"updated_at":    now,
		})
	if res.Error != nil {
		return 0, svc.sqlSvc.HandleError(res.Error)
	}
	if res.RowsAffected > 0 {
		log.WithField("count", res.RowsAffected).Warn("Failed jobs with expired leases")
	}
	return int(res.RowsAffected), nil
}

func (svc *BatchService) getByKey(ctx context.Context, userID, sessionID, messageID string) (*model.BatchJob, error) {
	var job model.BatchJob
	err := svc.sqlSvc.Db().WithContext(ctx).
		Where("user_id = ? AND session_id = ? AND message_id = ?", userID, sessionID, messageID).
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func isDuplicateKey(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}
