package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/muroyamasusumu-Git/cscs-sync-api/db"
	"github.com/muroyamasusumu-Git/cscs-sync-api/models"
	"github.com/muroyamasusumu-Git/cscs-sync-api/utils"
)

const (
	TypeArchiveDay = "aggregate:archive"
)

// JobManager runs the background queue for day-aggregate archival.
// Rolled-over aggregates are enqueued from the merge path and persisted
// here, so a Redis hiccup never blocks a merge.
type JobManager struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
}

func NewJobManager(redisURL string) *JobManager {
	addr := strings.TrimPrefix(redisURL, "redis://")
	redisOpt := asynq.RedisClientOpt{
		Addr: addr,
	}

	client := asynq.NewClient(redisOpt)

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 4,
		Queues: map[string]int{
			"default": 1,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			utils.LogError("Job failed: type=%s error=%v", task.Type(), err)
		}),
		Logger: &AsynqLogger{},
	})

	mux := asynq.NewServeMux()

	return &JobManager{
		client: client,
		server: server,
		mux:    mux,
	}
}

func (jm *JobManager) RegisterHandlers(database *db.DB) {
	jm.mux.HandleFunc(TypeArchiveDay, jm.handleArchiveDay(database))
}

func (jm *JobManager) Start() error {
	utils.LogStartup("Starting job queue worker...")
	return jm.server.Run(jm.mux)
}

func (jm *JobManager) Stop() {
	utils.LogShutdown("Stopping job queue...")
	jm.server.Stop()
	jm.server.Shutdown()
	jm.client.Close()
}

// ArchiveDayAggregates enqueues a rolled-over day for persistence.
// Satisfies the merge engine's Archiver.
func (jm *JobManager) ArchiveDayAggregates(archive models.DayArchive) error {
	payloadBytes, err := json.Marshal(archive)
	if err != nil {
		return fmt.Errorf("failed to marshal archive payload: %w", err)
	}

	task := asynq.NewTask(TypeArchiveDay, payloadBytes)

	info, err := jm.client.Enqueue(task, asynq.Queue("default"), asynq.MaxRetry(5))
	if err != nil {
		return fmt.Errorf("failed to enqueue archive task: %w", err)
	}

	utils.LogInfo("Queued archive job: ID=%s user=%s day=%d", info.ID, archive.UserKey, archive.Day)
	return nil
}

func (jm *JobManager) handleArchiveDay(database *db.DB) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		var archive models.DayArchive
		if err := json.Unmarshal(task.Payload(), &archive); err != nil {
			return fmt.Errorf("failed to unmarshal archive payload: %w", err)
		}

		utils.LogInfo("Processing archive job: user=%s day=%d", archive.UserKey, archive.Day)

		if err := database.InsertDayArchive(archive); err != nil {
			return fmt.Errorf("failed to archive day %d for %s: %w", archive.Day, archive.UserKey, err)
		}

		return nil
	}
}

// Custom logger that uses the shared logging helpers.
type AsynqLogger struct{}

func (l *AsynqLogger) Debug(args ...interface{}) {
	utils.LogDebug(fmt.Sprint(args...))
}

func (l *AsynqLogger) Info(args ...interface{}) {
	utils.LogInfo(fmt.Sprint(args...))
}

func (l *AsynqLogger) Warn(args ...interface{}) {
	utils.LogError(fmt.Sprint(args...))
}

func (l *AsynqLogger) Error(args ...interface{}) {
	utils.LogError(fmt.Sprint(args...))
}

func (l *AsynqLogger) Fatal(args ...interface{}) {
	utils.LogError(fmt.Sprint(args...))
}
