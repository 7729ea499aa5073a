// Package database provides the PostgreSQL pool and the broker account store.
//
// The feed keeps no market data in a database. Postgres holds only the
// broker_accounts table, read at startup when accounts.source is "database":
//
//	CREATE TABLE broker_accounts (
//	    id        BIGSERIAL PRIMARY KEY,
//	    name      TEXT    NOT NULL,
//	    api_key   TEXT    NOT NULL,
//	    host      TEXT    NOT NULL DEFAULT '',
//	    ws_url    TEXT    NOT NULL DEFAULT '',
//	    priority  INTEGER NOT NULL DEFAULT 0,
//	    is_active BOOLEAN NOT NULL DEFAULT TRUE
//	);
package database
