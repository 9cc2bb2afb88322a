package di

import (
	"fmt"

	"github.com/aristath/stockledger/internal/config"
	"github.com/aristath/stockledger/internal/reliability"
	"github.com/aristath/stockledger/internal/scheduler"
	"github.com/rs/zerolog"
)

// RegisterJobs creates the reliability jobs and schedules them. The scheduler
// is not started here.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	sched := scheduler.New(log)
	instances := &JobInstances{}

	instances.IntegrityAudit = reliability.NewIntegrityAuditJob(
		container.Databases(),
		container.InstrumentRepo,
		container.WalletRepo,
		container.PositionRepo,
		container.EventManager,
		log,
	)
	if err := sched.AddJob(cfg.AuditSchedule, instances.IntegrityAudit); err != nil {
		return nil, fmt.Errorf("failed to register integrity audit job: %w", err)
	}

	instances.WALCheckpoint = reliability.NewWALCheckpointJob(container.Databases(), log)
	if err := sched.AddJob(cfg.WALCheckpointSchedule, instances.WALCheckpoint); err != nil {
		return nil, fmt.Errorf("failed to register WAL checkpoint job: %w", err)
	}

	if container.BackupService != nil {
		instances.Backup = reliability.NewBackupJob(container.BackupService, cfg.Backup.RetentionDays, log)
		if err := sched.AddJob(cfg.BackupSchedule, instances.Backup); err != nil {
			return nil, fmt.Errorf("failed to register backup job: %w", err)
		}
	}

	container.Scheduler = sched
	container.Jobs = instances

	log.Info().Int("jobs", len(sched.Status())).Msg("Jobs registered")
	return instances, nil
}
