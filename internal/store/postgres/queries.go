package postgres

const triggerColumns = `
    id, agent_id, scope_type, scope_reference,
    timing_type, offset_amount, offset_unit,
    action_type, webhook_url,
    message_version, message_channel, message_custom_number,
    message_template_id, message_template_text,
    is_active, created_at, updated_at
`

const queryListActiveTriggers = `
SELECT` + triggerColumns + `
FROM triggers
WHERE is_active = true
ORDER BY created_at
`

const queryListTriggersByAgent = `
SELECT` + triggerColumns + `
FROM triggers
WHERE agent_id = $1
ORDER BY created_at DESC
`

const queryGetTriggerByID = `
SELECT` + triggerColumns + `
FROM triggers
WHERE id = $1
`

const queryInsertTrigger = `
INSERT INTO triggers (
    id, agent_id, scope_type, scope_reference,
    timing_type, offset_amount, offset_unit,
    action_type, webhook_url,
    message_version, message_channel, message_custom_number,
    message_template_id, message_template_text,
    is_active, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
`

const queryUpdateTrigger = `
UPDATE triggers
SET scope_type = $2, scope_reference = $3,
    timing_type = $4, offset_amount = $5, offset_unit = $6,
    action_type = $7, webhook_url = $8,
    message_version = $9, message_channel = $10, message_custom_number = $11,
    message_template_id = $12, message_template_text = $13,
    is_active = $14, updated_at = $15
WHERE id = $1
`

const queryDeleteTrigger = `
DELETE FROM triggers WHERE id = $1
RETURNING id
`

const queryInsertExecutionLog = `
INSERT INTO execution_logs (
    id, trigger_id, booking_uid, scheduled_for, executed_at,
    success, webhook_status, error_message, created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

const queryHasSucceeded = `
SELECT EXISTS (
    SELECT 1 FROM execution_logs
    WHERE trigger_id = $1 AND booking_uid = $2 AND scheduled_for = $3 AND success
)
`

const queryFailureInfo = `
SELECT COUNT(*), COALESCE(MAX(executed_at), to_timestamp(0))
FROM execution_logs
WHERE trigger_id = $1 AND booking_uid = $2 AND scheduled_for = $3 AND NOT success
`

const queryListLogsByBookingUIDs = `
SELECT id, trigger_id, booking_uid, scheduled_for, executed_at,
       success, webhook_status, error_message, created_at
FROM execution_logs
WHERE booking_uid = ANY($1)
ORDER BY executed_at DESC
`

const queryGetAgentByID = `
SELECT id, owner_id, name,
       calendar_api_key, calendar_api_version, meeting_id,
       whatsapp_number, created_at, updated_at
FROM agents
WHERE id = $1
`

const queryInsertCronRun = `
INSERT INTO cron_runs (
    id, started_at, finished_at, duration_ms, success, dry_run,
    triggers_processed, reminders_due, reminders_sent,
    reminders_failed, reminders_skipped, message
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`

const queryLatestCronRun = `
SELECT id, started_at, finished_at, duration_ms, success, dry_run,
       triggers_processed, reminders_due, reminders_sent,
       reminders_failed, reminders_skipped, message
FROM cron_runs
ORDER BY started_at DESC
LIMIT 1
`

const queryDeleteAvailability = `
DELETE FROM availability_windows WHERE agent_id = $1
`

const queryInsertAvailability = `
INSERT INTO availability_windows (
    id, agent_id, day_of_week, start_time, end_time, timezone, is_active
)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

const queryListAvailability = `
SELECT day_of_week, start_time, end_time, timezone, is_active
FROM availability_windows
WHERE agent_id = $1
ORDER BY day_of_week, start_time
`
