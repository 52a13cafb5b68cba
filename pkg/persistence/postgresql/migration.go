package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Automation definitions. Steps, trigger and exit criteria are
			-- value-like and replaced wholesale on edit, so they live in JSONB.
			CREATE TABLE automation_definitions (
				id UUID PRIMARY KEY,
				owner_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				trigger JSONB NOT NULL,
				is_multi_step BOOLEAN NOT NULL DEFAULT false,
				steps JSONB NOT NULL DEFAULT '[]',
				exit_criteria JSONB,
				max_duration_days INT NOT NULL DEFAULT 0,
				safety_exit_enabled BOOLEAN NOT NULL DEFAULT false,
				is_active BOOLEAN NOT NULL DEFAULT true,
				version INT NOT NULL DEFAULT 1,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_automation_definitions_owner ON automation_definitions(owner_id);
			CREATE INDEX idx_automation_definitions_trigger_event ON automation_definitions((trigger->>'event_type'));
			CREATE INDEX idx_automation_definitions_deleted_at ON automation_definitions(deleted_at);

			CREATE TABLE enrollments (
				id UUID PRIMARY KEY,
				automation_id UUID NOT NULL REFERENCES automation_definitions(id),
				entity_type VARCHAR(100) NOT NULL,
				entity_id VARCHAR(255) NOT NULL,
				owner_id VARCHAR(255) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('active', 'completed', 'exited', 'failed')),
				current_step_index INT NOT NULL DEFAULT 0,
				next_step_at TIMESTAMP WITH TIME ZONE,
				delay_armed BOOLEAN NOT NULL DEFAULT false,
				entered_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				definition_version INT NOT NULL,
				metadata JSONB,
				claimed_by VARCHAR(255),
				claim_expires_at TIMESTAMP WITH TIME ZONE
			);

			-- The scheduler's due query.
			CREATE INDEX idx_enrollments_status_next_step_at ON enrollments(status, next_step_at);
			CREATE INDEX idx_enrollments_automation ON enrollments(automation_id);

			-- Belt and suspenders for the one-active-enrollment invariant; the
			-- enrollment manager still checks it before inserting.
			CREATE UNIQUE INDEX idx_enrollments_unique_active
				ON enrollments(automation_id, entity_type, entity_id)
				WHERE status = 'active';

			CREATE TABLE execution_log (
				id UUID PRIMARY KEY,
				enrollment_id UUID NOT NULL REFERENCES enrollments(id),
				step_index INT NOT NULL,
				outcome VARCHAR(20) NOT NULL CHECK (outcome IN ('success', 'failure', 'skipped')),
				error_detail TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_execution_log_enrollment ON execution_log(enrollment_id, created_at);
		`,
	}
}
