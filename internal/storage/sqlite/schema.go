package sqlite

// Base schema (version 1). Later shape changes live in migrations.go; the
// base schema is only applied to fresh databases.
const schema = `
-- Append-only event log. sequence is strictly increasing per project_key.
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    project_key TEXT NOT NULL,
    type TEXT NOT NULL,
    timestamp INTEGER NOT NULL,          -- milliseconds since epoch
    sequence INTEGER NOT NULL,
    data TEXT NOT NULL DEFAULT '{}',
    UNIQUE (project_key, sequence)
);

CREATE INDEX IF NOT EXISTS idx_events_project_seq ON events(project_key, sequence);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);

-- Agents projection
CREATE TABLE IF NOT EXISTS agents (
    project_key TEXT NOT NULL,
    name TEXT NOT NULL,
    program TEXT NOT NULL DEFAULT '',
    model TEXT NOT NULL DEFAULT '',
    task_description TEXT NOT NULL DEFAULT '',
    registered_at INTEGER NOT NULL,
    last_active_at INTEGER NOT NULL,
    PRIMARY KEY (project_key, name)
);

-- Messages projection
CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    project_key TEXT NOT NULL,
    from_agent TEXT NOT NULL,
    subject TEXT NOT NULL,
    body TEXT NOT NULL DEFAULT '',
    thread_id TEXT NOT NULL DEFAULT '',
    importance TEXT NOT NULL DEFAULT 'normal',
    ack_required INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_project ON messages(project_key, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id);

CREATE TABLE IF NOT EXISTS message_recipients (
    message_id INTEGER NOT NULL,
    agent_name TEXT NOT NULL,
    read_at INTEGER,
    acked_at INTEGER,
    PRIMARY KEY (message_id, agent_name),
    FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_recipients_agent ON message_recipients(agent_name);

-- Reservations projection
CREATE TABLE IF NOT EXISTS reservations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    project_key TEXT NOT NULL,
    agent_name TEXT NOT NULL,
    path_pattern TEXT NOT NULL,
    exclusive INTEGER NOT NULL DEFAULT 1,
    reason TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    expires_at INTEGER NOT NULL,
    released_at INTEGER,
    lock_holder_id TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_reservations_active
    ON reservations(project_key, released_at, expires_at);
CREATE INDEX IF NOT EXISTS idx_reservations_agent
    ON reservations(project_key, agent_name);

-- CAS-backed durable locks
CREATE TABLE IF NOT EXISTS locks (
    project_key TEXT NOT NULL,
    resource TEXT NOT NULL,
    holder_id TEXT NOT NULL,
    expires_at INTEGER NOT NULL,
    cas_version INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (project_key, resource)
);

-- Cells (the tracker's primary table, kept in sync by cell events)
CREATE TABLE IF NOT EXISTS cells (
    id TEXT PRIMARY KEY,
    project_key TEXT NOT NULL,
    cell_type TEXT NOT NULL DEFAULT 'task',
    status TEXT NOT NULL DEFAULT 'open',
    title TEXT NOT NULL CHECK(length(title) <= 500),
    description TEXT,
    priority INTEGER NOT NULL DEFAULT 2 CHECK(priority >= 0 AND priority <= 3),
    parent_id TEXT,
    assignee TEXT,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    closed_at DATETIME,
    CHECK (
        (status = 'closed' AND closed_at IS NOT NULL) OR
        (status != 'closed' AND closed_at IS NULL)
    )
);

CREATE INDEX IF NOT EXISTS idx_cells_project_status ON cells(project_key, status);
CREATE INDEX IF NOT EXISTS idx_cells_parent ON cells(parent_id);
CREATE INDEX IF NOT EXISTS idx_cells_priority ON cells(priority);

-- Dirty cells awaiting JSONL flush
CREATE TABLE IF NOT EXISTS dirty_cells (
    cell_id TEXT PRIMARY KEY,
    project_key TEXT NOT NULL,
    marked_at INTEGER NOT NULL,
    FOREIGN KEY (cell_id) REFERENCES cells(id) ON DELETE CASCADE
);

-- Child counters for hierarchical subtask IDs (epic.N)
CREATE TABLE IF NOT EXISTS child_counters (
    parent_id TEXT PRIMARY KEY,
    last_child INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (parent_id) REFERENCES cells(id) ON DELETE CASCADE
);

-- Eval records projection (decomposition quality per epic)
CREATE TABLE IF NOT EXISTS eval_records (
    project_key TEXT NOT NULL,
    epic_id TEXT NOT NULL,
    subtasks TEXT NOT NULL DEFAULT '[]',
    outcomes TEXT NOT NULL DEFAULT '[]',
    success_count INTEGER NOT NULL DEFAULT 0,
    failure_count INTEGER NOT NULL DEFAULT 0,
    total_ms INTEGER NOT NULL DEFAULT 0,
    accepted INTEGER,
    modified INTEGER,
    notes TEXT NOT NULL DEFAULT '',
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (project_key, epic_id)
);

-- Swarm contexts projection (latest checkpoint per bead)
CREATE TABLE IF NOT EXISTS swarm_contexts (
    project_key TEXT NOT NULL,
    bead_id TEXT NOT NULL,
    epic_id TEXT NOT NULL DEFAULT '',
    strategy TEXT NOT NULL DEFAULT '',
    files TEXT NOT NULL DEFAULT '[]',
    dependencies TEXT NOT NULL DEFAULT '[]',
    directives TEXT NOT NULL DEFAULT '{}',
    recovery TEXT NOT NULL DEFAULT '{}',
    checkpointed_at INTEGER NOT NULL,
    recovered_at INTEGER,
    recovered_from_checkpoint INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (project_key, bead_id)
);

-- Metadata (internal state: schema version, import hashes)
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
