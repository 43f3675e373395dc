package database

import (
	"database/sql"
	"fmt"
)

const schemaSQL = `
CREATE EXTENSION IF NOT EXISTS "uuid-ossp";

CREATE TABLE IF NOT EXISTS merchants (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    name TEXT NOT NULL,
    contact_email TEXT NOT NULL,
    signing_key TEXT NOT NULL DEFAULT '',
    webhook_secret_hash BYTEA,
    valid_until DATE NOT NULL,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS merchant_credentials (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    merchant_id UUID NOT NULL REFERENCES merchants(id) ON DELETE CASCADE,
    scenario TEXT NOT NULL,
    account_id TEXT NOT NULL,
    secret_key TEXT NOT NULL,
    status_check_type TEXT NOT NULL DEFAULT 'polling',
    UNIQUE (merchant_id, scenario)
);

CREATE TABLE IF NOT EXISTS devices (
    uuid UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    device_uuid TEXT NOT NULL UNIQUE,
    merchant_id UUID NOT NULL REFERENCES merchants(id) ON DELETE CASCADE,
    payment_scenario TEXT NOT NULL DEFAULT 'Kassa',
    redirect_url TEXT,
    location TEXT NOT NULL DEFAULT '',
    test_device BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS orders (
    id TEXT PRIMARY KEY,
    device_uuid TEXT NOT NULL REFERENCES devices(device_uuid) ON DELETE CASCADE,
    merchant_id UUID NOT NULL REFERENCES merchants(id) ON DELETE CASCADE,
    drink_id TEXT NOT NULL,
    drink_name TEXT NOT NULL,
    size INT NOT NULL,
    price NUMERIC(10,2) NOT NULL,
    status TEXT NOT NULL DEFAULT 'created',
    status_check_type TEXT NOT NULL DEFAULT 'none',
    payment_reference_id TEXT,
    payment_started_at TIMESTAMPTZ,
    expires_at TIMESTAMPTZ NOT NULL,
    next_check_at TIMESTAMPTZ,
    last_check_at TIMESTAMPTZ,
    check_attempts INT NOT NULL DEFAULT 0,
    failed_presentation_desc TEXT,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_orders_device_uuid ON orders(device_uuid);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);

-- Partial index covering the background checker's due-order scan.
CREATE INDEX IF NOT EXISTS idx_orders_background_check
    ON orders(next_check_at)
    WHERE status = 'pending' AND status_check_type = 'polling' AND next_check_at IS NOT NULL;
`

func InitSchema(db *sql.DB) error {
	_, err := db.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}
	return nil
}
