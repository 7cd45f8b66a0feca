package store

const schema = `
CREATE TABLE IF NOT EXISTS daily_digests (
    day                  TEXT PRIMARY KEY,
    subject              TEXT NOT NULL,
    summary              TEXT NOT NULL,
    generated_at         TEXT NOT NULL,
    run_source           TEXT NOT NULL DEFAULT '',
    run_id               TEXT NOT NULL DEFAULT '',
    model                TEXT NOT NULL DEFAULT '',
    inspected_item_count INTEGER NOT NULL DEFAULT 0,
    included_item_count  INTEGER NOT NULL DEFAULT 0,
    digest_json          TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS raw_items (
    item_id      TEXT PRIMARY KEY,
    posted_at    TEXT NOT NULL DEFAULT '',
    last_seen_at TEXT NOT NULL,
    item_json    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_raw_items_posted_at ON raw_items(posted_at);

CREATE TABLE IF NOT EXISTS daily_crawled_items (
    day       TEXT NOT NULL,
    item_id   TEXT NOT NULL,
    item_json TEXT NOT NULL,
    PRIMARY KEY (day, item_id)
);

CREATE TABLE IF NOT EXISTS daily_item_decisions (
    day             TEXT NOT NULL,
    item_id         TEXT NOT NULL,
    relevant        BOOLEAN NOT NULL DEFAULT 0,
    relevance_score REAL NOT NULL DEFAULT 0,
    why_relevant    TEXT NOT NULL DEFAULT '',
    main_takeaway   TEXT NOT NULL DEFAULT '',
    decision_json   TEXT NOT NULL,
    PRIMARY KEY (day, item_id)
);

CREATE TABLE IF NOT EXISTS daily_highlight_items (
    day            TEXT NOT NULL,
    rank           INTEGER NOT NULL,
    item_id        TEXT NOT NULL,
    highlight_json TEXT NOT NULL,
    PRIMARY KEY (day, rank)
);

CREATE TABLE IF NOT EXISTS daily_articles (
    day          TEXT NOT NULL,
    rank         INTEGER NOT NULL,
    url          TEXT NOT NULL,
    article_json TEXT NOT NULL,
    PRIMARY KEY (day, rank)
);

CREATE TABLE IF NOT EXISTS coordinator_state (
    name             TEXT PRIMARY KEY,
    lock_until       INTEGER,
    last_run_at      TEXT,
    last_result_json TEXT
);
`
