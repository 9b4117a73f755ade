package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"shipsync/internal/model"
)

type Postgres struct {
	db *sql.DB

	// Now is the clock used for lock expiries; swapped in tests.
	Now func() time.Time
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db, Now: time.Now}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir applies every .sql file in dir in lexical order. Files are
// expected to be idempotent (CREATE TABLE IF NOT EXISTS style).
func (p *Postgres) MigrateDir(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	names := []string{}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

// ReplaceItems makes the cached set for (country, carrier, methodType) equal
// to items in one transaction: stale rows go, incoming rows are upserted.
func (p *Postgres) ReplaceItems(ctx context.Context, country, carrier, methodType string, items []model.MethodItem) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	if len(ids) == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM method_items WHERE country_code=$1 AND carrier_code=$2 AND method_type=$3`, country, carrier, methodType); err != nil {
			return err
		}
	} else {
		if _, err := tx.ExecContext(ctx, `DELETE FROM method_items WHERE country_code=$1 AND carrier_code=$2 AND method_type=$3 AND NOT (item_id = ANY($4))`, country, carrier, methodType, pgUUIDArray(ids)); err != nil {
			return err
		}
	}
	for _, it := range items {
		_, err := tx.ExecContext(ctx, `INSERT INTO method_items (item_id, item_name, item_type, method_type, street_address, locality, postal_code, carrier_code, country_code)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (item_id) DO UPDATE SET item_name=EXCLUDED.item_name, item_type=EXCLUDED.item_type, method_type=EXCLUDED.method_type, street_address=EXCLUDED.street_address, locality=EXCLUDED.locality, postal_code=EXCLUDED.postal_code, carrier_code=EXCLUDED.carrier_code, country_code=EXCLUDED.country_code`,
			it.ID, it.Name, it.Type, methodType, nullIfEmpty(it.StreetAddress), nullIfEmpty(it.Locality), nullIfEmpty(it.PostalCode), carrier, country)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

const itemCols = `item_id::text, item_name, item_type, method_type, COALESCE(street_address,''), COALESCE(locality,''), COALESCE(postal_code,''), carrier_code, country_code`

func scanItem(sc interface{ Scan(...any) error }) (model.MethodItem, error) {
	var it model.MethodItem
	err := sc.Scan(&it.ID, &it.Name, &it.Type, &it.MethodType, &it.StreetAddress, &it.Locality, &it.PostalCode, &it.CarrierCode, &it.CountryCode)
	return it, err
}

func (p *Postgres) GetItems(ctx context.Context, country, carrier, methodType string) ([]model.MethodItem, error) {
	q := `SELECT ` + itemCols + ` FROM method_items WHERE ($1='' OR country_code=$1) AND ($2='' OR carrier_code=$2) AND ($3='' OR method_type=$3) ORDER BY item_name`
	rows, err := p.db.QueryContext(ctx, q, country, carrier, methodType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.MethodItem{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (p *Postgres) GetItem(ctx context.Context, itemID string) (model.MethodItem, error) {
	if _, err := uuid.Parse(itemID); err != nil {
		return model.MethodItem{}, ErrNotFound
	}
	row := p.db.QueryRowContext(ctx, `SELECT `+itemCols+` FROM method_items WHERE item_id=$1`, itemID)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.MethodItem{}, ErrNotFound
	}
	return it, err
}

func (p *Postgres) GetCourierItemID(ctx context.Context, country, carrier string) (string, error) {
	var id string
	err := p.db.QueryRowContext(ctx, `SELECT item_id::text FROM method_items WHERE country_code=$1 AND carrier_code=$2 AND method_type=$3 ORDER BY item_id LIMIT 1`,
		country, carrier, model.MethodTypeCourier).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return id, err
}

func (p *Postgres) AvailableCountries(ctx context.Context, carrier, methodType string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT DISTINCT country_code FROM method_items WHERE carrier_code=$1 AND method_type=$2 ORDER BY country_code`, carrier, methodType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) ItemsExist(ctx context.Context, country, carrier, methodType string) (bool, error) {
	var one int
	err := p.db.QueryRowContext(ctx, `SELECT 1 FROM method_items WHERE ($1='' OR country_code=$1) AND ($2='' OR carrier_code=$2) AND ($3='' OR method_type=$3) LIMIT 1`,
		country, carrier, methodType).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (p *Postgres) ItemsGroupedByLocality(ctx context.Context, country, carrier, methodType string) ([]model.LocalityGroup, error) {
	q := `SELECT ` + itemCols + ` FROM method_items
WHERE ($1='' OR country_code=$1) AND ($2='' OR carrier_code=$2) AND ($3='' OR method_type=$3)
ORDER BY COUNT(*) OVER (PARTITION BY locality) DESC, locality, item_name`
	rows, err := p.db.QueryContext(ctx, q, country, carrier, methodType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	groups := []model.LocalityGroup{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		if n := len(groups); n == 0 || groups[n-1].Locality != it.Locality {
			groups = append(groups, model.LocalityGroup{Locality: it.Locality})
		}
		groups[len(groups)-1].Items = append(groups[len(groups)-1].Items, it)
	}
	return groups, rows.Err()
}

// AcquireLock takes or extends the named lock in one atomic statement: the
// update only wins when the existing row has expired.
func (p *Postgres) AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	now := p.Now().UTC()
	res, err := p.db.ExecContext(ctx, `INSERT INTO sync_locks (lock_name, expires_at) VALUES ($1, $2)
ON CONFLICT (lock_name) DO UPDATE SET expires_at = EXCLUDED.expires_at
WHERE sync_locks.expires_at <= $3`, name, now.Add(ttl), now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *Postgres) ReleaseLock(ctx context.Context, name string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM sync_locks WHERE lock_name=$1`, name)
	return err
}

func (p *Postgres) LockExists(ctx context.Context, name string) (bool, error) {
	var one int
	err := p.db.QueryRowContext(ctx, `SELECT 1 FROM sync_locks WHERE lock_name=$1 AND expires_at > $2`, name, p.Now().UTC()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (p *Postgres) GetOption(ctx context.Context, name string) (string, error) {
	var v string
	err := p.db.QueryRowContext(ctx, `SELECT option_value FROM options WHERE option_name=$1`, name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return v, err
}

func (p *Postgres) SetOption(ctx context.Context, name, value string) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO options (option_name, option_value) VALUES ($1,$2)
ON CONFLICT (option_name) DO UPDATE SET option_value=EXCLUDED.option_value`, name, value)
	return err
}

func (p *Postgres) CreateOrder(ctx context.Context, o model.Order) (model.Order, error) {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.Number == "" {
		o.Number = o.ID
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Order{}, err
	}
	defer func() { _ = tx.Rollback() }()
	_, err = tx.ExecContext(ctx, `INSERT INTO orders (id, number, status, billing, shipping, items) VALUES ($1,$2,$3,$4,$5,$6)`,
		o.ID, o.Number, o.Status, toJSON(o.Billing), toJSON(o.Shipping), toJSON(o.Items))
	if err != nil {
		return model.Order{}, err
	}
	if err := upsertMetaTx(ctx, tx, o.ID, o.Meta); err != nil {
		return model.Order{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Order{}, err
	}
	if o.Meta == nil {
		o.Meta = map[string]string{}
	}
	return o, nil
}

func (p *Postgres) GetOrder(ctx context.Context, id string) (model.Order, error) {
	row := p.db.QueryRowContext(ctx, `SELECT id::text, number, status, billing, shipping, items FROM orders WHERE id=$1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, ErrNotFound
	}
	if err != nil {
		return model.Order{}, err
	}
	o.Meta, err = p.orderMeta(ctx, o.ID)
	return o, err
}

func (p *Postgres) UpdateOrder(ctx context.Context, o model.Order) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	res, err := tx.ExecContext(ctx, `UPDATE orders SET number=$2, status=$3, billing=$4, shipping=$5, items=$6 WHERE id=$1`,
		o.ID, o.Number, o.Status, toJSON(o.Billing), toJSON(o.Shipping), toJSON(o.Items))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := upsertMetaTx(ctx, tx, o.ID, o.Meta); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *Postgres) FindOrderByMeta(ctx context.Context, key, value string) (model.Order, error) {
	var id string
	err := p.db.QueryRowContext(ctx, `SELECT order_id::text FROM order_meta WHERE meta_key=$1 AND meta_value=$2 ORDER BY order_id LIMIT 1`, key, value).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, ErrNotFound
	}
	if err != nil {
		return model.Order{}, err
	}
	return p.GetOrder(ctx, id)
}

func (p *Postgres) SetOrderMeta(ctx context.Context, orderID string, meta map[string]string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	var one int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM orders WHERE id=$1`, orderID).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if err := upsertMetaTx(ctx, tx, orderID, meta); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *Postgres) AddOrderNote(ctx context.Context, orderID, note string) error {
	res, err := p.db.ExecContext(ctx, `INSERT INTO order_notes (order_id, note) SELECT id, $2 FROM orders WHERE id=$1`, orderID, note)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListOrderNotes(ctx context.Context, orderID string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT note FROM order_notes WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (p *Postgres) orderMeta(ctx context.Context, orderID string) (map[string]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT meta_key, meta_value FROM order_meta WHERE order_id=$1`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	meta := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

func upsertMetaTx(ctx context.Context, tx *sql.Tx, orderID string, meta map[string]string) error {
	for k, v := range meta {
		_, err := tx.ExecContext(ctx, `INSERT INTO order_meta (order_id, meta_key, meta_value) VALUES ($1,$2,$3)
ON CONFLICT (order_id, meta_key) DO UPDATE SET meta_value=EXCLUDED.meta_value`, orderID, k, v)
		if err != nil {
			return err
		}
	}
	return nil
}

func scanOrder(row *sql.Row) (model.Order, error) {
	var o model.Order
	var billing, shipping, items []byte
	if err := row.Scan(&o.ID, &o.Number, &o.Status, &billing, &shipping, &items); err != nil {
		return o, err
	}
	fromJSON(billing, &o.Billing)
	fromJSON(shipping, &o.Shipping)
	fromJSON(items, &o.Items)
	return o, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func toJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func fromJSON(b []byte, dst any) {
	if len(b) > 0 {
		_ = json.Unmarshal(b, dst)
	}
}

// pgUUIDArray renders ids as a Postgres uuid[] literal for = ANY($n).
func pgUUIDArray(ids []string) string {
	return "{" + strings.Join(ids, ",") + "}"
}
