package database

const migration001Up = `
CREATE TABLE IF NOT EXISTS users (
    id VARCHAR(64) PRIMARY KEY,
    email VARCHAR(255) NOT NULL,
    password_hash TEXT NOT NULL,
    full_name VARCHAR(150) NOT NULL,
    role VARCHAR(16) NOT NULL,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    last_login TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT users_role_check CHECK (role IN ('ADMIN', 'TEACHER', 'STUDENT'))
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users (LOWER(email));

CREATE TABLE IF NOT EXISTS audit_logs (
    id VARCHAR(64) PRIMARY KEY,
    user_id VARCHAR(64),
    action VARCHAR(64) NOT NULL,
    resource VARCHAR(64) NOT NULL,
    resource_id VARCHAR(64),
    old_values JSONB,
    new_values JSONB,
    ip_address VARCHAR(64),
    user_agent TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs (resource, resource_id);

CREATE TABLE IF NOT EXISTS programs (
    id VARCHAR(64) PRIMARY KEY,
    code VARCHAR(32) NOT NULL UNIQUE,
    name VARCHAR(150) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS students (
    id VARCHAR(64) PRIMARY KEY,
    nis VARCHAR(32) NOT NULL UNIQUE,
    full_name VARCHAR(150) NOT NULL,
    program_id VARCHAR(64) REFERENCES programs(id) ON DELETE SET NULL,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_students_program ON students (program_id) WHERE active;
`

const migration001Down = `
DROP TABLE IF EXISTS students;
DROP TABLE IF EXISTS programs;
DROP TABLE IF EXISTS audit_logs;
DROP TABLE IF EXISTS users;
`

const migration002Up = `
CREATE TABLE IF NOT EXISTS levels (
    id VARCHAR(64) PRIMARY KEY,
    name VARCHAR(100) NOT NULL,
    position SMALLINT NOT NULL UNIQUE,
    CONSTRAINT levels_position_check CHECK (position BETWEEN 1 AND 5)
);

CREATE TABLE IF NOT EXISTS activities (
    id VARCHAR(64) PRIMARY KEY,
    title VARCHAR(200) NOT NULL,
    activity_date DATE NOT NULL,
    start_time VARCHAR(5) NOT NULL,
    end_time VARCHAR(5) NOT NULL,
    level SMALLINT,
    created_by VARCHAR(64) REFERENCES users(id),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_activities_date ON activities (activity_date);

CREATE TABLE IF NOT EXISTS activity_evaluations (
    id VARCHAR(64) PRIMARY KEY,
    activity_id VARCHAR(64) NOT NULL REFERENCES activities(id) ON DELETE CASCADE,
    criterion VARCHAR(150) NOT NULL,
    level_id VARCHAR(64) REFERENCES levels(id) ON DELETE SET NULL
);
CREATE INDEX IF NOT EXISTS idx_activity_evaluations_activity ON activity_evaluations (activity_id);

CREATE TABLE IF NOT EXISTS sustainability_themes (
    id VARCHAR(64) PRIMARY KEY,
    name VARCHAR(100) NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS activity_sustainability_themes (
    activity_id VARCHAR(64) NOT NULL REFERENCES activities(id) ON DELETE CASCADE,
    theme_id VARCHAR(64) NOT NULL REFERENCES sustainability_themes(id) ON DELETE CASCADE,
    PRIMARY KEY (activity_id, theme_id)
);

CREATE TABLE IF NOT EXISTS activity_enrollments (
    id VARCHAR(64) PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    activity_id VARCHAR(64) NOT NULL REFERENCES activities(id) ON DELETE CASCADE,
    participation_confirmed BOOLEAN NOT NULL DEFAULT FALSE,
    evidence_status VARCHAR(16) NOT NULL DEFAULT 'not_submitted',
    evidence_approved_at TIMESTAMPTZ,
    evidence_reviewed_by VARCHAR(64) REFERENCES users(id),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (student_id, activity_id),
    CONSTRAINT activity_enrollments_evidence_check CHECK (evidence_status IN ('not_submitted', 'submitted', 'approved', 'rejected'))
);
CREATE INDEX IF NOT EXISTS idx_activity_enrollments_eligible ON activity_enrollments (student_id)
    WHERE participation_confirmed AND evidence_status = 'approved';
`

const migration002Down = `
DROP TABLE IF EXISTS activity_enrollments;
DROP TABLE IF EXISTS activity_sustainability_themes;
DROP TABLE IF EXISTS sustainability_themes;
DROP TABLE IF EXISTS activity_evaluations;
DROP TABLE IF EXISTS activities;
DROP TABLE IF EXISTS levels;
`

const migration003Up = `
CREATE TABLE IF NOT EXISTS progress_snapshots (
    id VARCHAR(64) PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    academic_year VARCHAR(9) NOT NULL,
    program_id VARCHAR(64) REFERENCES programs(id) ON DELETE SET NULL,
    level1_hours DOUBLE PRECISION NOT NULL DEFAULT 0,
    level2_hours DOUBLE PRECISION NOT NULL DEFAULT 0,
    level3_hours DOUBLE PRECISION NOT NULL DEFAULT 0,
    level4_hours DOUBLE PRECISION NOT NULL DEFAULT 0,
    level5_hours DOUBLE PRECISION NOT NULL DEFAULT 0,
    sustainability_hours DOUBLE PRECISION NOT NULL DEFAULT 0,
    recalculated_at TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (student_id, academic_year)
);
CREATE INDEX IF NOT EXISTS idx_progress_snapshots_program ON progress_snapshots (program_id, academic_year);

CREATE TABLE IF NOT EXISTS program_targets (
    id VARCHAR(64) PRIMARY KEY,
    program_id VARCHAR(64) NOT NULL REFERENCES programs(id) ON DELETE CASCADE,
    academic_year VARCHAR(9) NOT NULL,
    level1_target_hours NUMERIC(8,2) NOT NULL DEFAULT 0,
    level2_target_hours NUMERIC(8,2) NOT NULL DEFAULT 0,
    level3_target_hours NUMERIC(8,2) NOT NULL DEFAULT 0,
    level4_target_hours NUMERIC(8,2) NOT NULL DEFAULT 0,
    level5_target_hours NUMERIC(8,2) NOT NULL DEFAULT 0,
    sustainability_target_hours NUMERIC(8,2) NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (program_id, academic_year)
);
`

const migration003Down = `
DROP TABLE IF EXISTS program_targets;
DROP TABLE IF EXISTS progress_snapshots;
`
