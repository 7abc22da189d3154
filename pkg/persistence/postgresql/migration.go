package postgresql

// migrations returns the schema migrations keyed by version.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS automation_rules (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				trigger_type VARCHAR(64) NOT NULL,
				frequency VARCHAR(32) NOT NULL DEFAULT '',
				flow JSONB NOT NULL,
				active BOOLEAN NOT NULL DEFAULT FALSE,
				cron_expression VARCHAR(255) NOT NULL DEFAULT '',
				target_list_id VARCHAR(255) NOT NULL DEFAULT '',
				next_fire_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_rules_trigger_type
				ON automation_rules (trigger_type) WHERE active;
			CREATE INDEX IF NOT EXISTS idx_rules_next_fire_at
				ON automation_rules (next_fire_at)
				WHERE active AND trigger_type = 'date_based';

			CREATE TABLE IF NOT EXISTS executions (
				id VARCHAR(255) PRIMARY KEY,
				rule_id VARCHAR(255) NOT NULL,
				subject_id VARCHAR(255) NOT NULL,
				idempotency_key VARCHAR(767) NOT NULL DEFAULT '',
				status VARCHAR(32) NOT NULL,
				current_step_id VARCHAR(255) NOT NULL DEFAULT '',
				context JSONB NOT NULL DEFAULT '{}',
				wake_at TIMESTAMP WITH TIME ZONE,
				attempts INTEGER NOT NULL DEFAULT 0,
				error_detail TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_executions_due
				ON executions (wake_at) WHERE status = 'waiting';
			CREATE INDEX IF NOT EXISTS idx_executions_rule_id
				ON executions (rule_id);
			CREATE INDEX IF NOT EXISTS idx_executions_status
				ON executions (status);
			CREATE INDEX IF NOT EXISTS idx_executions_idempotency_key
				ON executions (idempotency_key) WHERE idempotency_key <> '';
		`,
	}
}
