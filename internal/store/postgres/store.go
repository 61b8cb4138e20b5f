package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/caltrigger-io/caltrigger/internal/api"
	"github.com/caltrigger-io/caltrigger/internal/calendar"
	"github.com/caltrigger-io/caltrigger/internal/dispatcher"
	"github.com/caltrigger-io/caltrigger/internal/domain"
	"github.com/caltrigger-io/caltrigger/internal/engine"
	"github.com/caltrigger-io/caltrigger/internal/heartbeat"
)

// Store implements the trigger, execution-log, agent, cron-run and
// availability persistence on PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL store with the given database connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func scanTrigger(row interface{ Scan(...any) error }) (domain.Trigger, error) {
	var t domain.Trigger
	err := row.Scan(
		&t.ID,
		&t.AgentID,
		&t.ScopeType,
		&t.ScopeReference,
		&t.TimingType,
		&t.OffsetAmount,
		&t.OffsetUnit,
		&t.ActionType,
		&t.WebhookURL,
		&t.Message.Version,
		&t.Message.Channel,
		&t.Message.CustomNumber,
		&t.Message.TemplateID,
		&t.Message.TemplateText,
		&t.IsActive,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	return t, err
}

// ListActiveTriggers returns every active trigger, oldest first.
func (s *Store) ListActiveTriggers(ctx context.Context) ([]domain.Trigger, error) {
	rows, err := s.db.QueryContext(ctx, queryListActiveTriggers)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// ListTriggersByAgent returns an agent's triggers, newest first.
func (s *Store) ListTriggersByAgent(ctx context.Context, agentID uuid.UUID) ([]domain.Trigger, error) {
	rows, err := s.db.QueryContext(ctx, queryListTriggersByAgent, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *Store) GetTriggerByID(ctx context.Context, id uuid.UUID) (domain.Trigger, error) {
	return scanTrigger(s.db.QueryRowContext(ctx, queryGetTriggerByID, id))
}

func (s *Store) CreateTrigger(ctx context.Context, t domain.Trigger) error {
	_, err := s.db.ExecContext(ctx, queryInsertTrigger,
		t.ID,
		t.AgentID,
		string(t.ScopeType),
		t.ScopeReference,
		string(t.TimingType),
		t.OffsetAmount,
		string(t.OffsetUnit),
		string(t.ActionType),
		t.WebhookURL,
		t.Message.Version,
		string(t.Message.Channel),
		t.Message.CustomNumber,
		t.Message.TemplateID,
		t.Message.TemplateText,
		t.IsActive,
		t.CreatedAt,
		t.UpdatedAt,
	)
	return err
}

// UpdateTrigger overwrites an existing trigger. Returns sql.ErrNoRows when
// the trigger does not exist.
func (s *Store) UpdateTrigger(ctx context.Context, t domain.Trigger) error {
	result, err := s.db.ExecContext(ctx, queryUpdateTrigger,
		t.ID,
		string(t.ScopeType),
		t.ScopeReference,
		string(t.TimingType),
		t.OffsetAmount,
		string(t.OffsetUnit),
		string(t.ActionType),
		t.WebhookURL,
		t.Message.Version,
		string(t.Message.Channel),
		t.Message.CustomNumber,
		t.Message.TemplateID,
		t.Message.TemplateText,
		t.IsActive,
		t.UpdatedAt,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) DeleteTrigger(ctx context.Context, id uuid.UUID) error {
	var deletedID uuid.UUID
	return s.db.QueryRowContext(ctx, queryDeleteTrigger, id).Scan(&deletedID)
}

// RecordAttempt appends one execution log row. A unique violation on the
// successful-log key maps to dispatcher.ErrDuplicateLog.
func (s *Store) RecordAttempt(ctx context.Context, entry domain.ExecutionLog) error {
	var status sql.NullInt32
	if entry.WebhookStatus != nil {
		status = sql.NullInt32{Int32: int32(*entry.WebhookStatus), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, queryInsertExecutionLog,
		entry.ID,
		entry.TriggerID,
		entry.BookingUID,
		entry.ScheduledFor,
		entry.ExecutedAt,
		entry.Success,
		status,
		entry.ErrorMessage,
		entry.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return dispatcher.ErrDuplicateLog
		}
		return err
	}
	return nil
}

func (s *Store) HasSucceeded(ctx context.Context, triggerID uuid.UUID, bookingUID string, scheduledFor time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, queryHasSucceeded, triggerID, bookingUID, scheduledFor).Scan(&exists)
	return exists, err
}

func (s *Store) FailureInfo(ctx context.Context, triggerID uuid.UUID, bookingUID string, scheduledFor time.Time) (int, time.Time, error) {
	var attempts int
	var lastAt time.Time
	err := s.db.QueryRowContext(ctx, queryFailureInfo, triggerID, bookingUID, scheduledFor).Scan(&attempts, &lastAt)
	if err != nil {
		return 0, time.Time{}, err
	}
	return attempts, lastAt, nil
}

// ListExecutionLogs returns every attempt recorded against the given booking
// uids, newest first.
func (s *Store) ListExecutionLogs(ctx context.Context, bookingUIDs []string) ([]domain.ExecutionLog, error) {
	rows, err := s.db.QueryContext(ctx, queryListLogsByBookingUIDs, pq.Array(bookingUIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ExecutionLog
	for rows.Next() {
		var entry domain.ExecutionLog
		var status sql.NullInt32

		err := rows.Scan(
			&entry.ID,
			&entry.TriggerID,
			&entry.BookingUID,
			&entry.ScheduledFor,
			&entry.ExecutedAt,
			&entry.Success,
			&status,
			&entry.ErrorMessage,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		if status.Valid {
			code := int(status.Int32)
			entry.WebhookStatus = &code
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

func (s *Store) GetAgentByID(ctx context.Context, id uuid.UUID) (domain.Agent, error) {
	var a domain.Agent
	err := s.db.QueryRowContext(ctx, queryGetAgentByID, id).Scan(
		&a.ID,
		&a.OwnerID,
		&a.Name,
		&a.CalendarAPIKey,
		&a.CalendarAPIVersion,
		&a.MeetingID,
		&a.WhatsAppNumber,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return domain.Agent{}, err
	}
	return a, nil
}

func (s *Store) InsertCronRun(ctx context.Context, run domain.CronRun) error {
	_, err := s.db.ExecContext(ctx, queryInsertCronRun,
		run.ID,
		run.StartedAt,
		run.FinishedAt,
		run.DurationMs,
		run.Success,
		run.DryRun,
		run.TriggersProcessed,
		run.RemindersDue,
		run.RemindersSent,
		run.RemindersFailed,
		run.RemindersSkipped,
		run.Message,
	)
	return err
}

// LatestCronRun returns the most recently started run. The bool reports
// whether any run exists yet.
func (s *Store) LatestCronRun(ctx context.Context) (domain.CronRun, bool, error) {
	var run domain.CronRun
	err := s.db.QueryRowContext(ctx, queryLatestCronRun).Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.DurationMs,
		&run.Success,
		&run.DryRun,
		&run.TriggersProcessed,
		&run.RemindersDue,
		&run.RemindersSent,
		&run.RemindersFailed,
		&run.RemindersSkipped,
		&run.Message,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CronRun{}, false, nil
	}
	if err != nil {
		return domain.CronRun{}, false, err
	}
	return run, true, nil
}

// ReplaceAvailability swaps an agent's whole weekly schedule in one
// transaction.
func (s *Store) ReplaceAvailability(ctx context.Context, agentID uuid.UUID, windows []domain.AvailabilityWindow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, queryDeleteAvailability, agentID); err != nil {
		return err
	}
	for _, w := range windows {
		_, err := tx.ExecContext(ctx, queryInsertAvailability,
			uuid.New(),
			agentID,
			w.DayOfWeek,
			w.StartTime,
			w.EndTime,
			w.Timezone,
			w.IsActive,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ListAvailability(ctx context.Context, agentID uuid.UUID) ([]domain.AvailabilityWindow, error) {
	rows, err := s.db.QueryContext(ctx, queryListAvailability, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.AvailabilityWindow
	for rows.Next() {
		var w domain.AvailabilityWindow
		if err := rows.Scan(&w.DayOfWeek, &w.StartTime, &w.EndTime, &w.Timezone, &w.IsActive); err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

// isUniqueViolation checks for the PostgreSQL unique violation code 23505.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Compile-time interface assertions
var (
	_ dispatcher.TriggerStore = (*Store)(nil)
	_ dispatcher.LogStore     = (*Store)(nil)
	_ calendar.AgentSource    = (*Store)(nil)
	_ engine.RunStore         = (*Store)(nil)
	_ heartbeat.RunSource     = (*Store)(nil)
	_ api.Store               = (*Store)(nil)
)
