package store

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    name        TEXT NOT NULL UNIQUE,
    corrects    INTEGER NOT NULL DEFAULT 0,
    submissions INTEGER NOT NULL DEFAULT 0,
    solution    INTEGER NOT NULL DEFAULT 0,
    tier        INTEGER,
    ignored     BOOLEAN NOT NULL DEFAULT 0,
    created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS problems (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id      INTEGER NOT NULL REFERENCES users(id),
    problem      INTEGER NOT NULL,
    problem_tier INTEGER,
    solved_at    DATETIME NOT NULL,
    level        INTEGER,
    repeat_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_problems_user_problem ON problems(user_id, problem);

CREATE TABLE IF NOT EXISTS events (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    title      TEXT NOT NULL,
    begin_at   DATETIME NOT NULL,
    end_at     DATETIME NOT NULL,
    created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS event_problems (
    event_id INTEGER NOT NULL REFERENCES events(id),
    problem  INTEGER NOT NULL,
    PRIMARY KEY (event_id, problem)
);

CREATE TABLE IF NOT EXISTS score_history (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id     INTEGER NOT NULL REFERENCES users(id),
    description TEXT NOT NULL,
    point       INTEGER NOT NULL,
    event_id    INTEGER REFERENCES events(id),
    problem_id  INTEGER REFERENCES problems(id),
    created_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_score_history_user_created ON score_history(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_score_history_created ON score_history(created_at);

CREATE TABLE IF NOT EXISTS user_bias_total (
    user_id     INTEGER PRIMARY KEY REFERENCES users(id),
    total_point INTEGER NOT NULL,
    updated_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS ranking_boards (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    seq        INTEGER NOT NULL,
    title      TEXT NOT NULL,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ranking_boards_created ON ranking_boards(created_at);

CREATE TABLE IF NOT EXISTS ranked_users (
    board_id INTEGER NOT NULL REFERENCES ranking_boards(id),
    rank     INTEGER NOT NULL,
    user_id  INTEGER NOT NULL REFERENCES users(id),
    PRIMARY KEY (board_id, rank)
);

CREATE TABLE IF NOT EXISTS hooks (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    url        TEXT NOT NULL UNIQUE,
    ignored    BOOLEAN NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
    id          BIGSERIAL PRIMARY KEY,
    name        TEXT NOT NULL UNIQUE,
    corrects    INTEGER NOT NULL DEFAULT 0,
    submissions INTEGER NOT NULL DEFAULT 0,
    solution    BIGINT NOT NULL DEFAULT 0,
    tier        INTEGER,
    ignored     BOOLEAN NOT NULL DEFAULT FALSE,
    created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS problems (
    id           BIGSERIAL PRIMARY KEY,
    user_id      BIGINT NOT NULL REFERENCES users(id),
    problem      INTEGER NOT NULL,
    problem_tier INTEGER,
    solved_at    TIMESTAMPTZ NOT NULL,
    level        INTEGER,
    repeat_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_problems_user_problem ON problems(user_id, problem);

CREATE TABLE IF NOT EXISTS events (
    id         BIGSERIAL PRIMARY KEY,
    title      TEXT NOT NULL,
    begin_at   TIMESTAMPTZ NOT NULL,
    end_at     TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS event_problems (
    event_id BIGINT NOT NULL REFERENCES events(id),
    problem  INTEGER NOT NULL,
    PRIMARY KEY (event_id, problem)
);

CREATE TABLE IF NOT EXISTS score_history (
    id          BIGSERIAL PRIMARY KEY,
    user_id     BIGINT NOT NULL REFERENCES users(id),
    description TEXT NOT NULL,
    point       INTEGER NOT NULL,
    event_id    BIGINT REFERENCES events(id),
    problem_id  BIGINT REFERENCES problems(id),
    created_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_score_history_user_created ON score_history(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_score_history_created ON score_history(created_at);

CREATE TABLE IF NOT EXISTS user_bias_total (
    user_id     BIGINT PRIMARY KEY REFERENCES users(id),
    total_point INTEGER NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS ranking_boards (
    id         BIGSERIAL PRIMARY KEY,
    seq        INTEGER NOT NULL,
    title      TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ranking_boards_created ON ranking_boards(created_at);

CREATE TABLE IF NOT EXISTS ranked_users (
    board_id BIGINT NOT NULL REFERENCES ranking_boards(id),
    rank     INTEGER NOT NULL,
    user_id  BIGINT NOT NULL REFERENCES users(id),
    PRIMARY KEY (board_id, rank)
);

CREATE TABLE IF NOT EXISTS hooks (
    id         BIGSERIAL PRIMARY KEY,
    url        TEXT NOT NULL UNIQUE,
    ignored    BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL
);
`
