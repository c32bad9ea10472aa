package store

const schema = `
CREATE TABLE IF NOT EXISTS actors (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	role TEXT NOT NULL,
	afc_balance REAL NOT NULL DEFAULT 0,
	reputation INTEGER NOT NULL DEFAULT 50,
	hidden_goal TEXT NOT NULL DEFAULT '',
	is_eliminated INTEGER NOT NULL DEFAULT 0,
	eliminated_at_hour INTEGER,
	stress REAL NOT NULL DEFAULT 0,
	confidence REAL NOT NULL DEFAULT 0.5,
	paranoia REAL NOT NULL DEFAULT 0,
	aggression REAL NOT NULL DEFAULT 0,
	guilt REAL NOT NULL DEFAULT 0,
	decision_count INTEGER NOT NULL DEFAULT 0,
	total_trades INTEGER NOT NULL DEFAULT 0,
	total_posts INTEGER NOT NULL DEFAULT 0,
	posts_this_hour INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sender_id INTEGER NOT NULL REFERENCES actors(id),
	receiver_id INTEGER NOT NULL REFERENCES actors(id),
	amount REAL NOT NULL,
	price REAL NOT NULL,
	fee REAL NOT NULL,
	status TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	resolved_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status);

CREATE TABLE IF NOT EXISTS leverage_positions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	actor_id INTEGER NOT NULL REFERENCES actors(id),
	direction TEXT NOT NULL,
	target_price REAL NOT NULL,
	stake REAL NOT NULL,
	fee REAL NOT NULL,
	potential_return REAL NOT NULL,
	settlement_time TEXT NOT NULL,
	status TEXT NOT NULL,
	settled_price REAL,
	payout REAL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_leverage_status ON leverage_positions(status);

CREATE TABLE IF NOT EXISTS alliances (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	founder_id INTEGER NOT NULL REFERENCES actors(id),
	treasury REAL NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	last_bonus_at TEXT,
	betrayed_by INTEGER,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS alliance_members (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	alliance_id INTEGER NOT NULL REFERENCES alliances(id),
	actor_id INTEGER NOT NULL REFERENCES actors(id),
	contribution REAL NOT NULL DEFAULT 0,
	share_percent REAL NOT NULL DEFAULT 0,
	is_active INTEGER NOT NULL DEFAULT 1,
	defection_initiated_at TEXT,
	joined_at TEXT NOT NULL,
	UNIQUE(alliance_id, actor_id)
);

CREATE TABLE IF NOT EXISTS bounties (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	poster_id INTEGER NOT NULL REFERENCES actors(id),
	description TEXT NOT NULL,
	reward REAL NOT NULL,
	status TEXT NOT NULL,
	claimer_id INTEGER,
	created_at TEXT NOT NULL,
	completed_at TEXT
);

CREATE TABLE IF NOT EXISTS blackmail_contracts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	blackmailer_id INTEGER NOT NULL REFERENCES actors(id),
	target_id INTEGER NOT NULL REFERENCES actors(id),
	demand REAL NOT NULL,
	threat TEXT NOT NULL,
	deadline TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	resolved_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_blackmail_status ON blackmail_contracts(status);

CREATE TABLE IF NOT EXISTS hit_contracts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	poster_id INTEGER NOT NULL REFERENCES actors(id),
	target_id INTEGER NOT NULL REFERENCES actors(id),
	reward REAL NOT NULL,
	condition_type TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	deadline TEXT NOT NULL,
	claimer_id INTEGER,
	proof TEXT,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	resolved_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_hits_status ON hit_contracts(status);

CREATE TABLE IF NOT EXISTS intel_purchases (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	buyer_id INTEGER NOT NULL REFERENCES actors(id),
	target_id INTEGER NOT NULL REFERENCES actors(id),
	tier INTEGER NOT NULL,
	cost REAL NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS whispers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sender_id INTEGER NOT NULL REFERENCES actors(id),
	receiver_id INTEGER NOT NULL REFERENCES actors(id),
	content TEXT NOT NULL,
	cost REAL NOT NULL DEFAULT 0,
	is_read INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS posts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	author_id INTEGER NOT NULL REFERENCES actors(id),
	content TEXT NOT NULL,
	post_type TEXT NOT NULL DEFAULT 'general',
	upvotes INTEGER NOT NULL DEFAULT 0,
	downvotes INTEGER NOT NULL DEFAULT 0,
	is_flagged INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS comments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	post_id INTEGER NOT NULL REFERENCES posts(id),
	author_id INTEGER NOT NULL REFERENCES actors(id),
	content TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS votes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	post_id INTEGER NOT NULL REFERENCES posts(id),
	voter_id INTEGER NOT NULL REFERENCES actors(id),
	is_upvote INTEGER NOT NULL,
	created_at TEXT NOT NULL,
	UNIQUE(post_id, voter_id)
);

CREATE TABLE IF NOT EXISTS vote_manipulations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	buyer_id INTEGER NOT NULL REFERENCES actors(id),
	post_id INTEGER NOT NULL REFERENCES posts(id),
	kind TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	cost REAL NOT NULL,
	detected INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS system_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	trigger_hour INTEGER NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	price_impact_percent REAL NOT NULL DEFAULT 0,
	duration_minutes INTEGER NOT NULL DEFAULT 0,
	is_triggered INTEGER NOT NULL DEFAULT 0,
	triggered_at TEXT
);

CREATE TABLE IF NOT EXISTS eliminations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	actor_id INTEGER NOT NULL REFERENCES actors(id),
	game_hour INTEGER NOT NULL UNIQUE,
	final_balance REAL NOT NULL,
	final_reputation INTEGER NOT NULL,
	redistribution TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tribunal_votes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	voter_id INTEGER NOT NULL REFERENCES actors(id),
	target_id INTEGER NOT NULL REFERENCES actors(id),
	game_hour INTEGER NOT NULL,
	created_at TEXT NOT NULL,
	UNIQUE(voter_id, game_hour)
);

CREATE TABLE IF NOT EXISTS reputation_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	actor_id INTEGER NOT NULL REFERENCES actors(id),
	change INTEGER NOT NULL,
	reason TEXT NOT NULL,
	new_value INTEGER NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_replog_actor ON reputation_logs(actor_id, created_at);

CREATE TABLE IF NOT EXISTS balance_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	actor_id INTEGER NOT NULL REFERENCES actors(id),
	balance REAL NOT NULL,
	reputation INTEGER NOT NULL,
	rank INTEGER NOT NULL,
	game_hour INTEGER NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS market_prices (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	price_eur REAL NOT NULL,
	buy_volume REAL NOT NULL DEFAULT 0,
	sell_volume REAL NOT NULL DEFAULT 0,
	market_pressure REAL NOT NULL DEFAULT 0,
	volatility REAL NOT NULL DEFAULT 0,
	event_impact TEXT,
	recorded_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS game_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	current_hour INTEGER NOT NULL DEFAULT 0,
	phase TEXT NOT NULL DEFAULT 'pre_game',
	is_trading_frozen INTEGER NOT NULL DEFAULT 0,
	current_fee_rate REAL NOT NULL,
	total_circulation REAL NOT NULL,
	actors_remaining INTEGER NOT NULL,
	started_at TEXT,
	ended_at TEXT
);

CREATE TABLE IF NOT EXISTS admin_actions (
	id TEXT PRIMARY KEY,
	action TEXT NOT NULL,
	target_id INTEGER,
	detail TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
`
