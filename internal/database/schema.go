package database

import "database/sql"

// schema is applied idempotently at startup when database.auto_migrate is on.
// The unique keys are load-bearing: (order_id, kind, owner_id) is the
// settlement idempotency backstop and (gateway_id, event_key) is the webhook
// inbox dedupe.
const schema = `
CREATE TABLE IF NOT EXISTS owners (
	id          UUID PRIMARY KEY,
	kind        TEXT NOT NULL CHECK (kind IN ('SELLER', 'AFFILIATE')),
	fee_plan_id TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS fee_plans (
	id         TEXT PRIMARY KEY,
	version    INT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS fee_plan_entries (
	plan_id      TEXT NOT NULL REFERENCES fee_plans (id),
	method       TEXT NOT NULL CHECK (method IN ('PIX', 'CARD', 'BOLETO')),
	rate_percent NUMERIC(5, 2) NOT NULL,
	fixed_fee    NUMERIC(20, 2) NOT NULL,
	holding_days INT NOT NULL,
	PRIMARY KEY (plan_id, method)
);

CREATE TABLE IF NOT EXISTS orders (
	id                 UUID PRIMARY KEY,
	gross_amount       NUMERIC(20, 2) NOT NULL CHECK (gross_amount > 0),
	payment_method     TEXT NOT NULL CHECK (payment_method IN ('PIX', 'CARD', 'BOLETO')),
	seller_id          UUID NOT NULL,
	affiliate_id       UUID,
	commission_percent NUMERIC(5, 2),
	status             TEXT NOT NULL CHECK (status IN ('AWAITING_PAYMENT', 'PAID', 'SETTLED', 'CANCELED')),
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS payment_refs (
	external_ref TEXT PRIMARY KEY,
	gateway_id   TEXT NOT NULL,
	order_id     UUID NOT NULL REFERENCES orders (id)
);

CREATE TABLE IF NOT EXISTS ledger_entries (
	id         UUID PRIMARY KEY,
	owner_id   UUID NOT NULL,
	order_id   UUID NOT NULL REFERENCES orders (id),
	kind       TEXT NOT NULL CHECK (kind IN ('NET_SALE', 'COMMISSION')),
	amount     NUMERIC(20, 2) NOT NULL,
	status     TEXT NOT NULL CHECK (status IN ('HELD', 'AVAILABLE')),
	release_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (order_id, kind, owner_id)
);

CREATE INDEX IF NOT EXISTS idx_ledger_entries_owner_status ON ledger_entries (owner_id, status);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_release ON ledger_entries (status, release_at);

CREATE TABLE IF NOT EXISTS withdrawals (
	id         UUID PRIMARY KEY,
	owner_id   UUID NOT NULL REFERENCES owners (id),
	amount     NUMERIC(20, 2) NOT NULL CHECK (amount > 0),
	status     TEXT NOT NULL CHECK (status IN ('REQUESTED', 'APPROVED', 'PROCESSING', 'PAID', 'REJECTED')),
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_withdrawals_owner_status ON withdrawals (owner_id, status);

CREATE TABLE IF NOT EXISTS webhook_events (
	id            BIGSERIAL PRIMARY KEY,
	gateway_id    TEXT NOT NULL,
	event_key     TEXT NOT NULL,
	payload       BYTEA NOT NULL,
	received_at   TIMESTAMPTZ NOT NULL,
	processed_at  TIMESTAMPTZ,
	process_error TEXT,
	UNIQUE (gateway_id, event_key)
);

CREATE INDEX IF NOT EXISTS idx_webhook_events_pending ON webhook_events (received_at) WHERE processed_at IS NULL;
`

// EnsureSchema creates the settlement tables if they do not exist.
func EnsureSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
