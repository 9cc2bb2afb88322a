// Package reliability provides the scheduled integrity audit, WAL
// maintenance and off-site backups of the ledger databases.
package reliability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/stockledger/internal/database"
	"github.com/aristath/stockledger/internal/domain"
	"github.com/aristath/stockledger/internal/events"
	"github.com/aristath/stockledger/internal/modules/wallet"
	"github.com/rs/zerolog"
)

const (
	auditTimeout  = 2 * time.Minute
	walTimeout    = time.Minute
	backupTimeout = 30 * time.Minute
)

// InventoryAuditor counts instruments with negative remaining inventory.
type InventoryAuditor interface {
	CountNegative(ctx context.Context) (int, error)
}

// WalletAuditor reconciles wallet balances against their entries.
type WalletAuditor interface {
	Reconcile(ctx context.Context) ([]wallet.Discrepancy, error)
}

// PositionAuditor counts position rows that break the position invariants.
type PositionAuditor interface {
	CountInvalid(ctx context.Context) (int, error)
}

// AuditReport is the outcome of one integrity audit.
type AuditReport struct {
	NegativeInventory   int                  `json:"negative_inventory"`
	WalletDiscrepancies []wallet.Discrepancy `json:"wallet_discrepancies"`
	InvalidPositions    int                  `json:"invalid_positions"`
	FailedDatabases     []string             `json:"failed_databases"`
	CheckedAt           time.Time            `json:"checked_at"`
}

// Violations is the total number of problems found.
func (r *AuditReport) Violations() int {
	return r.NegativeInventory + len(r.WalletDiscrepancies) + r.InvalidPositions + len(r.FailedDatabases)
}

// IntegrityAuditJob checks the cross-store invariants the executor maintains:
// inventory never negative, every wallet non-negative and equal to the sum of
// its entries, every position holding a positive quantity. It also runs the
// SQLite integrity check on each database.
type IntegrityAuditJob struct {
	databases []*database.DB
	inventory InventoryAuditor
	wallets   WalletAuditor
	positions PositionAuditor
	events    EventEmitter
	now       domain.Clock
	log       zerolog.Logger
}

// NewIntegrityAuditJob creates a new integrity audit job. emitter may be nil.
func NewIntegrityAuditJob(
	databases []*database.DB,
	inventory InventoryAuditor,
	wallets WalletAuditor,
	positions PositionAuditor,
	emitter EventEmitter,
	log zerolog.Logger,
) *IntegrityAuditJob {
	return &IntegrityAuditJob{
		databases: databases,
		inventory: inventory,
		wallets:   wallets,
		positions: positions,
		events:    emitter,
		now:       domain.SystemClock,
		log:       log.With().Str("job", "integrity_audit").Logger(),
	}
}

// Name returns the job name
func (j *IntegrityAuditJob) Name() string {
	return "integrity_audit"
}

// Run executes the audit
func (j *IntegrityAuditJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()

	_, err := j.Audit(ctx)
	return err
}

// Audit runs every check and raises an alert per violation found. A storage
// failure aborts the audit.
func (j *IntegrityAuditJob) Audit(ctx context.Context) (*AuditReport, error) {
	report := &AuditReport{
		CheckedAt:           j.now(),
		WalletDiscrepancies: []wallet.Discrepancy{},
		FailedDatabases:     []string{},
	}

	for _, db := range j.databases {
		if db == nil {
			continue
		}
		if err := db.HealthCheck(ctx); err != nil {
			report.FailedDatabases = append(report.FailedDatabases, db.Name())
			j.alert("database", "", err.Error())
		}
	}

	negative, err := j.inventory.CountNegative(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to audit inventory: %w", err)
	}
	report.NegativeInventory = negative
	if negative > 0 {
		j.alert("inventory", "", fmt.Sprintf("%d instruments with negative remaining inventory", negative))
	}

	discrepancies, err := j.wallets.Reconcile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to audit wallets: %w", err)
	}
	report.WalletDiscrepancies = append(report.WalletDiscrepancies, discrepancies...)
	for _, d := range discrepancies {
		j.alert("wallet", d.UserID, fmt.Sprintf("balance %s, entries sum to %s", d.Balance, d.EntrySum))
	}

	invalid, err := j.positions.CountInvalid(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to audit positions: %w", err)
	}
	report.InvalidPositions = invalid
	if invalid > 0 {
		j.alert("positions", "", fmt.Sprintf("%d invalid position rows", invalid))
	}

	if report.Violations() == 0 {
		j.log.Info().Msg("Integrity audit passed")
	}
	return report, nil
}

func (j *IntegrityAuditJob) alert(check, userID, detail string) {
	j.log.Error().
		Str("check", check).
		Str("user_id", userID).
		Str("detail", detail).
		Msg("Integrity violation")

	if j.events != nil {
		j.events.EmitTyped(events.IntegrityAlert, "reliability", &events.IntegrityAlertData{
			Source: "audit:" + check,
			UserID: userID,
			Error:  detail,
		})
	}
}

// WALCheckpointJob truncates the WAL of every database.
type WALCheckpointJob struct {
	databases []*database.DB
	log       zerolog.Logger
}

// NewWALCheckpointJob creates a new WAL checkpoint job
func NewWALCheckpointJob(databases []*database.DB, log zerolog.Logger) *WALCheckpointJob {
	return &WALCheckpointJob{
		databases: databases,
		log:       log.With().Str("job", "wal_checkpoint").Logger(),
	}
}

// Name returns the job name
func (j *WALCheckpointJob) Name() string {
	return "wal_checkpoint"
}

// Run checkpoints each database. A failing database does not stop the rest.
func (j *WALCheckpointJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), walTimeout)
	defer cancel()

	var errs []error
	checked := 0
	for _, db := range j.databases {
		if db == nil {
			continue
		}
		if err := db.WALCheckpoint(ctx, "TRUNCATE"); err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
			errs = append(errs, err)
			continue
		}
		checked++
	}

	j.log.Debug().Int("checked", checked).Msg("WAL checkpoint completed")
	return errors.Join(errs...)
}

// BackupJob uploads a backup and rotates old archives.
type BackupJob struct {
	service       *BackupService
	retentionDays int
	log           zerolog.Logger
}

// NewBackupJob creates a new backup job
func NewBackupJob(service *BackupService, retentionDays int, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		service:       service,
		retentionDays: retentionDays,
		log:           log.With().Str("job", "backup").Logger(),
	}
}

// Name returns the job name
func (j *BackupJob) Name() string {
	return "backup"
}

// Run creates and uploads a backup, then rotates. A rotation failure is
// logged and does not fail the job.
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), backupTimeout)
	defer cancel()

	if _, err := j.service.CreateAndUpload(ctx); err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}
	if _, err := j.service.RotateOldBackups(ctx, j.retentionDays); err != nil {
		j.log.Warn().Err(err).Msg("Backup rotation failed")
	}
	return nil
}
