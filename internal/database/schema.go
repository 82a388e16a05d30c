package database

// Schema contains all SQL statements for creating tables and indexes
const Schema = `
-- Challenges table: one head-to-head competition
CREATE TABLE IF NOT EXISTS challenges (
    id TEXT PRIMARY KEY,
    creator_id TEXT NOT NULL,
    invite_code TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL DEFAULT '',
    sports TEXT NOT NULL,          -- JSON array of sports
    start_date TEXT NOT NULL,      -- YYYY-MM-DD
    end_date TEXT NOT NULL,        -- YYYY-MM-DD
    timezone TEXT NOT NULL DEFAULT 'UTC',
    status TEXT NOT NULL,
    winner_id TEXT,

    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Participants table: at most two per challenge
CREATE TABLE IF NOT EXISTS participants (
    id TEXT PRIMARY KEY,
    challenge_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    user_name TEXT NOT NULL DEFAULT '',
    goals TEXT NOT NULL,           -- JSON object sport -> km
    joined_at INTEGER NOT NULL,
    forfeited_at INTEGER,

    UNIQUE (challenge_id, user_id),
    FOREIGN KEY (challenge_id) REFERENCES challenges(id) ON DELETE CASCADE
);

-- Daily progress: one row per participant per day, latest date is authoritative
CREATE TABLE IF NOT EXISTS daily_progress (
    challenge_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    date TEXT NOT NULL,            -- YYYY-MM-DD
    meters TEXT NOT NULL,          -- JSON object sport -> meters
    overall_percent INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,

    PRIMARY KEY (challenge_id, user_id, date),
    FOREIGN KEY (challenge_id) REFERENCES challenges(id) ON DELETE CASCADE
);

-- Week results: immutable, written at most once per challenge and week
CREATE TABLE IF NOT EXISTS week_results (
    id TEXT PRIMARY KEY,
    challenge_id TEXT NOT NULL,
    week_start TEXT NOT NULL,      -- YYYY-MM-DD, a Monday
    user_a_id TEXT NOT NULL,
    user_b_id TEXT NOT NULL,
    user_a_percent INTEGER NOT NULL,
    user_b_percent INTEGER NOT NULL,
    winner_id TEXT,
    computed_at INTEGER NOT NULL,

    UNIQUE (challenge_id, week_start),
    FOREIGN KEY (challenge_id) REFERENCES challenges(id) ON DELETE CASCADE
);

-- Activities table: provider activities, deduplicated by provider id
CREATE TABLE IF NOT EXISTS activities (
    id INTEGER PRIMARY KEY,        -- Strava activity ID
    user_id TEXT NOT NULL,
    sport TEXT NOT NULL,
    distance_meters INTEGER NOT NULL,
    start_time INTEGER NOT NULL,   -- Unix timestamp
    created_at INTEGER NOT NULL
);

-- Connections table: linked provider accounts and their OAuth tokens
CREATE TABLE IF NOT EXISTS connections (
    user_id TEXT PRIMARY KEY,
    athlete_id INTEGER NOT NULL,
    access_token TEXT NOT NULL,
    refresh_token TEXT NOT NULL,
    expires_at INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Notifications table: persisted user notifications
CREATE TABLE IF NOT EXISTS notifications (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    challenge_id TEXT,
    message TEXT NOT NULL,
    read BOOLEAN NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,

    FOREIGN KEY (challenge_id) REFERENCES challenges(id) ON DELETE SET NULL
);

-- Indexes for challenges table
CREATE INDEX IF NOT EXISTS idx_challenges_status ON challenges(status);
CREATE INDEX IF NOT EXISTS idx_challenges_creator ON challenges(creator_id);

-- Indexes for participants table
CREATE INDEX IF NOT EXISTS idx_participants_user ON participants(user_id);

-- Indexes for daily_progress table
CREATE INDEX IF NOT EXISTS idx_daily_progress_latest ON daily_progress(challenge_id, user_id, date DESC);

-- Indexes for activities table
CREATE INDEX IF NOT EXISTS idx_activities_user_start ON activities(user_id, start_time);

-- Indexes for notifications table
CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_notifications_unread ON notifications(user_id) WHERE read = 0;
`
