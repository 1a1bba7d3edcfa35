package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/clinic-api/internal/platform/db"
	"github.com/clinicore/clinic-api/internal/platform/versioned"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const stockItemCols = `id, name, unit, expiry_date, quantity_in_stock, available,
	version, dispense_history, created_at, updated_at`

func scanStockItem(row pgx.Row) (*StockItem, error) {
	var s StockItem
	var history []byte
	err := row.Scan(&s.ID, &s.Name, &s.Unit, &s.ExpiryDate, &s.QuantityInStock, &s.Available,
		&s.Version, &history, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &s.DispenseHistory); err != nil {
			return nil, fmt.Errorf("decode dispense history: %w", err)
		}
	}
	return &s, nil
}

// Create inserts a fresh stock line. A unique-violation on the
// (name, expiry day) index surfaces as versioned.ErrConflict so callers
// racing on a first restock retry and merge into the winner's line.
func (r *repoPG) Create(ctx context.Context, item *StockItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	item.Version = 1
	item.Available = item.QuantityInStock > 0
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO stock_item (id, name, unit, expiry_date, quantity_in_stock, available, version, dispense_history)
		VALUES ($1, $2, $3, $4, $5, $6, 1, '[]'::jsonb)`,
		item.ID, item.Name, item.Unit, item.ExpiryDate, item.QuantityInStock, item.Available)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return versioned.ErrConflict
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*StockItem, error) {
	item, err := scanStockItem(r.conn(ctx).QueryRow(ctx,
		`SELECT `+stockItemCols+` FROM stock_item WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return item, err
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*StockItem, error) {
	item, err := scanStockItem(r.conn(ctx).QueryRow(ctx,
		`SELECT `+stockItemCols+` FROM stock_item WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return item, err
}

func (r *repoPG) FindByNameAndExpiryDay(ctx context.Context, name string, expiry time.Time) (*StockItem, error) {
	item, err := scanStockItem(r.conn(ctx).QueryRow(ctx,
		`SELECT `+stockItemCols+` FROM stock_item WHERE name = $1 AND expiry_date::date = $2::date`,
		name, expiry))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return item, err
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*StockItem, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM stock_item`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+stockItemCols+` FROM stock_item ORDER BY name, expiry_date LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*StockItem
	for rows.Next() {
		item, err := scanStockItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	return items, total, rows.Err()
}

// ApplyDeduction writes the new quantity, the derived availability, the
// version bump and the appended history entry as one conditional statement,
// so the audit entry exists iff the stock mutation committed. A missed
// version match scans no row and surfaces as versioned.ErrConflict.
func (r *repoPG) ApplyDeduction(ctx context.Context, id uuid.UUID, expectedVersion, newQuantity int, rec DispenseRecord) (*StockItem, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode dispense record: %w", err)
	}
	item, err := scanStockItem(r.conn(ctx).QueryRow(ctx, `
		UPDATE stock_item
		SET quantity_in_stock = $3,
		    available = $3 > 0,
		    version = version + 1,
		    dispense_history = dispense_history || $4::jsonb,
		    updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING `+stockItemCols,
		id, expectedVersion, newQuantity, payload))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, versioned.ErrConflict
	}
	return item, err
}

func (r *repoPG) ApplyRestock(ctx context.Context, id uuid.UUID, expectedVersion, newQuantity int) (*StockItem, error) {
	item, err := scanStockItem(r.conn(ctx).QueryRow(ctx, `
		UPDATE stock_item
		SET quantity_in_stock = $3,
		    available = $3 > 0,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING `+stockItemCols,
		id, expectedVersion, newQuantity))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, versioned.ErrConflict
	}
	return item, err
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM stock_item WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) ResolveRecipient(ctx context.Context, appointmentID uuid.UUID) (string, error) {
	var name string
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT p.given_name || ' ' || p.family_name
		FROM appointment a
		JOIN patient p ON p.id = a.patient_id
		WHERE a.id = $1`, appointmentID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return name, err
}

func (r *repoPG) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithTx(ctx, r.pool, fn)
}

// ListAudit flattens every item's JSONB history into one time-ordered view.
// The recipient fallback chain (explicit name, then the linked
// appointment's patient, then "Unknown") is resolved in SQL.
func (r *repoPG) ListAudit(ctx context.Context, f AuditFilter) ([]*AuditEntry, error) {
	query := `
		SELECT s.id, s.name, s.unit,
		       (h->>'quantity')::int,
		       (h->>'dispensed_at')::timestamptz,
		       h->>'dispensed_by',
		       h->>'source',
		       COALESCE(NULLIF(h->>'recipient_name', ''), p.given_name || ' ' || p.family_name, 'Unknown'),
		       (h->>'linked_appointment')::uuid
		FROM stock_item s
		CROSS JOIN LATERAL jsonb_array_elements(s.dispense_history) AS h
		LEFT JOIN appointment a ON a.id = (h->>'linked_appointment')::uuid
		LEFT JOIN patient p ON p.id = a.patient_id
		WHERE 1=1`
	var args []interface{}
	idx := 1

	if !f.From.IsZero() {
		query += fmt.Sprintf(` AND (h->>'dispensed_at')::timestamptz >= $%d`, idx)
		args = append(args, f.From)
		idx++
	}
	if !f.To.IsZero() {
		query += fmt.Sprintf(` AND (h->>'dispensed_at')::timestamptz <= $%d`, idx)
		args = append(args, f.To)
		idx++
	}
	if f.ItemName != "" {
		query += fmt.Sprintf(` AND s.name ILIKE '%%' || $%d || '%%'`, idx)
		args = append(args, f.ItemName)
		idx++
	}

	query += ` ORDER BY (h->>'dispensed_at')::timestamptz DESC`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		var source string
		err := rows.Scan(&e.ItemID, &e.ItemName, &e.Unit, &e.Quantity, &e.DispensedAt,
			&e.DispensedBy, &source, &e.RecipientName, &e.LinkedAppointment)
		if err != nil {
			return nil, err
		}
		e.Source = Source(source)
		e.SourceLabel = e.Source.Label()
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
