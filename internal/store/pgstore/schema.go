package pgstore

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the tables shared with gormstore. It is safe to run repeatedly.
const Schema = `
create table if not exists wallets (
	user_id text primary key,
	balance bigint not null default 0 constraint chk_wallets_balance_non_negative check (balance >= 0),
	created_at timestamptz not null default now(),
	updated_at timestamptz not null default now()
);

create table if not exists wallet_entries (
	sequence bigserial primary key,
	entry_id text not null constraint uniq_wallet_entries_entry_id unique,
	user_id text not null,
	type text not null,
	amount bigint not null,
	balance_after bigint not null,
	reason text not null,
	reference_id text not null,
	metadata jsonb not null default '{}'::jsonb,
	created_at timestamptz not null
);
create index if not exists idx_wallet_entries_user_created on wallet_entries(user_id, created_at);
create unique index if not exists uniq_wallet_entries_reference on wallet_entries(reference_id, user_id, reason);

create table if not exists rentals (
	id text primary key,
	item_id text not null,
	owner_id text not null,
	renter_id text not null,
	start_date timestamptz not null,
	end_date timestamptz not null,
	daily_price bigint not null,
	total_credits bigint not null,
	deposit_credits bigint not null default 0,
	status text not null,
	created_at timestamptz not null,
	updated_at timestamptz not null
);
create index if not exists idx_rentals_owner on rentals(owner_id);
create index if not exists idx_rentals_renter on rentals(renter_id);
create index if not exists idx_rentals_created on rentals(created_at);
`

// Migrate applies Schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeMigrate, err)
	}
	return nil
}
