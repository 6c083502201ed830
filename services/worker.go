// services/worker.go
package services

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"sync"

	appContext "github.com/alphabatem/common/context"
	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"github.com/hanmadi-app/hanmadi_api/dto"
)

// WorkerService consumes job ids from the queue and drives each one through
// claim, model invocation and completion. Claims are the dedupe point: a
// redelivered or duplicate message loses the claim and gets acked away.
type WorkerService struct {
	appContext.DefaultService

	queueSvc *QueueService
	batchSvc *BatchService
	modelSvc *ModelService

	concurrency int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

const WORKER_SVC = "worker_svc"

func (svc WorkerService) Id() string {
	return WORKER_SVC
}

func (svc *WorkerService) Configure(ctx *appContext.Context) error {
	svc.concurrency = workerConcurrency()
	return svc.DefaultService.Configure(ctx)
}

func (svc *WorkerService) Start() error {
	svc.queueSvc = svc.Service(QUEUE_SVC).(*QueueService)
	svc.batchSvc = svc.Service(BATCH_SVC).(*BatchService)
	svc.modelSvc = svc.Service(MODEL_SVC).(*ModelService)

	msgs, err := svc.queueSvc.Consume(svc.concurrency)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	svc.cancel = cancel

	log.WithFields(log.Fields{
		"queue":       svc.queueSvc.Queue(),
		"concurrency": svc.concurrency,
	}).Info("Worker started")

	jobs := make(chan amqp.Delivery, svc.concurrency*2)

	svc.wg.Add(svc.concurrency)
	for i := 0; i < svc.concurrency; i++ {
		go svc.runWorker(ctx, i, jobs)
	}

	svc.wg.Add(1)
	go svc.dispatch(ctx, msgs, jobs)

	return nil
}

func (svc *WorkerService) Shutdown() {
	if svc.cancel != nil {
		svc.cancel()
	}
	svc.wg.Wait()
}

func (svc *WorkerService) dispatch(ctx context.Context, msgs <-chan amqp.Delivery, jobs chan<- amqp.Delivery) {
	defer svc.wg.Done()
	defer close(jobs)

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-msgs:
			if !ok {
				log.Warn("Delivery channel closed")
				return
			}
			jobs <- d
		}
	}
}

func (svc *WorkerService) runWorker(ctx context.Context, workerID int, jobs <-chan amqp.Delivery) {
	defer svc.wg.Done()

	for d := range jobs {
		var m JobMessage
		if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
			log.WithField("worker", workerID).WithError(err).Warn("Bad queue message")
			_ = d.Nack(false, false)
			continue
		}

		if err := svc.handleJob(ctx, m.JobID); err != nil {
			log.WithFields(log.Fields{
				"worker": workerID,
				"job_id": m.JobID,
			}).WithError(err).Error("Job handling failed")
			_ = d.Nack(false, false)
			continue
		}

		if err := d.Ack(false); err != nil {
			log.WithFields(log.Fields{
				"worker": workerID,
				"job_id": m.JobID,
			}).WithError(err).Error("Ack failed")
		}
	}
}

// handleJob runs one job end to end. A model failure is terminal for the
// job, recorded via Fail, and still returns nil so the message is acked
// rather than retried with the same doomed input.
func (svc *WorkerService) handleJob(ctx context.Context, jobID string) error {
	job, err := svc.batchSvc.Claim(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		// Already claimed or finished, nothing to do.
		return nil
	}

	var messages []dto.ChatMessage
	if err := json.Unmarshal(job.Messages, &messages); err != nil {
		return svc.batchSvc.Fail(ctx, jobID, "stored messages are unreadable")
	}

	result, err := svc.modelSvc.Invoke(ctx, job.ModelID, messages, job.Language, job.SpeechLevel)
	if err != nil {
		return svc.batchSvc.Fail(ctx, jobID, err.Error())
	}

	return svc.batchSvc.Complete(ctx, jobID, result)
}

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}
