package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/example/ride-booking/internal/models"
)

const bookingColumns = `id, order_number, rider_id, category, pickup_address, dropoff_address,
	actual_price, price, driver_price, commission, assignment_type, driver_id, status,
	is_rejected, rejection_reason, is_expired, expires_at, expired_at, is_paid, payment_ref,
	created_at, started_at, picked_up_at, dropped_off_at, completed_at`

// PostgresStore implements Store on a caller-owned *sql.DB. The connection
// lifecycle belongs to the caller; the store never opens or closes it.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Insert(ctx context.Context, b *models.Booking) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)`,
		b.ID, b.OrderNumber, b.RiderID, b.Category, b.PickupAddress, b.DropoffAddress,
		b.ActualPrice, b.Price, b.DriverPrice, b.Commission, string(b.AssignmentType),
		nullString(b.DriverID), string(b.Status),
		b.IsRejected, nullString(b.RejectionReason), b.IsExpired,
		nullTime(b.ExpiresAt), nullTime(b.ExpiredAt), b.IsPaid, nullString(b.PaymentRef),
		b.CreatedAt, nullTime(b.StartedAt), nullTime(b.PickedUpAt), nullTime(b.DroppedOffAt), nullTime(b.CompletedAt))
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrDuplicateOrderNumber
	}
	return err
}

func (p *PostgresStore) FindByID(ctx context.Context, id string) (*models.Booking, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return b, err
}

func (p *PostgresStore) FindMany(ctx context.Context, f Filter, s Sort, pg Page) ([]models.Booking, error) {
	where, args := buildFilter(f)
	q := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	field := s.Field
	if field == "" {
		field = "created_at"
	}
	q += " ORDER BY " + pq.QuoteIdentifier(field)
	if s.Desc {
		q += " DESC"
	}
	if pg.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d OFFSET %d", pg.Limit, pg.Offset)
	}
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ConditionalUpdate(ctx context.Context, id string, expect Expect, patch Patch) (*models.Booking, error) {
	return conditionalUpdate(ctx, p.db, id, expect, patch)
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM wallet_transactions WHERE booking_id = $1`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM bookings WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (p *PostgresStore) CountActiveForDriver(ctx context.Context, driverID, excludeID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookings WHERE driver_id = $1 AND status = ANY($2) AND id <> $3`,
		driverID, pq.Array(statusStrings(models.ActiveStatuses)), excludeID).Scan(&n)
	return n, err
}

func (p *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	return sqlTx.Commit()
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) ConditionalUpdate(ctx context.Context, id string, expect Expect, patch Patch) (*models.Booking, error) {
	return conditionalUpdate(ctx, t.tx, id, expect, patch)
}

func (t *pgTx) IncrementWallet(ctx context.Context, driverID string, amount float64) (float64, error) {
	var balance float64
	err := t.tx.QueryRowContext(ctx,
		`UPDATE drivers SET wallet_balance = wallet_balance + $1 WHERE id = $2 RETURNING wallet_balance`,
		amount, driverID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return balance, err
}

func (t *pgTx) AppendTransaction(ctx context.Context, e *models.WalletTransaction) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO wallet_transactions (id, driver_id, booking_id, amount, type, balance_after, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		e.ID, e.DriverID, e.BookingID, e.Amount, e.Type, e.BalanceAfter, e.CreatedAt)
	return err
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func conditionalUpdate(ctx context.Context, q queryRower, id string, expect Expect, patch Patch) (*models.Booking, error) {
	set, args := buildPatch(patch)
	if len(set) == 0 {
		return nil, fmt.Errorf("empty patch for booking %s", id)
	}
	args = append(args, id)
	where := []string{fmt.Sprintf("id = $%d", len(args))}
	where, args = appendExpect(where, args, expect)

	query := `UPDATE bookings SET ` + strings.Join(set, ", ") +
		` WHERE ` + strings.Join(where, " AND ") + ` RETURNING ` + bookingColumns
	b, err := scanBooking(q.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, ErrNotMatched
	}
	return b, err
}

func buildPatch(patch Patch) (set []string, args []any) {
	add := func(col string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.DriverID != nil {
		add("driver_id", *patch.DriverID)
	}
	if patch.ClearDriver {
		set = append(set, "driver_id = NULL")
	}
	if patch.IsExpired != nil {
		add("is_expired", *patch.IsExpired)
	}
	if patch.ExpiredAt != nil {
		add("expired_at", *patch.ExpiredAt)
	}
	if patch.ClearExpiry {
		set = append(set, "is_expired = FALSE", "expires_at = NULL", "expired_at = NULL")
	}
	if patch.IsRejected != nil {
		add("is_rejected", *patch.IsRejected)
	}
	if patch.RejectionReason != nil {
		add("rejection_reason", *patch.RejectionReason)
	}
	if patch.ClearRejection {
		set = append(set, "is_rejected = FALSE", "rejection_reason = NULL")
	}
	if patch.IsPaid != nil {
		add("is_paid", *patch.IsPaid)
	}
	if patch.StartedAt != nil {
		add("started_at", *patch.StartedAt)
	}
	if patch.PickedUpAt != nil {
		add("picked_up_at", *patch.PickedUpAt)
	}
	if patch.DroppedOffAt != nil {
		add("dropped_off_at", *patch.DroppedOffAt)
	}
	if patch.CompletedAt != nil {
		add("completed_at", *patch.CompletedAt)
	}
	return set, args
}

func appendExpect(where []string, args []any, expect Expect) ([]string, []any) {
	if expect.Status != nil {
		args = append(args, string(*expect.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if expect.DriverID != nil {
		args = append(args, *expect.DriverID)
		where = append(where, fmt.Sprintf("driver_id = $%d", len(args)))
	}
	if expect.DriverUnset {
		where = append(where, "driver_id IS NULL")
	}
	if expect.NotExpired {
		where = append(where, "is_expired = FALSE")
	}
	if expect.NotPaid {
		where = append(where, "is_paid = FALSE")
	}
	if expect.OpenWindowAt != nil {
		args = append(args, *expect.OpenWindowAt)
		where = append(where, fmt.Sprintf("(expires_at IS NULL OR expires_at > $%d)", len(args)))
	}
	return where, args
}

func buildFilter(f Filter) (where []string, args []any) {
	if len(f.Statuses) > 0 {
		args = append(args, pq.Array(statusStrings(f.Statuses)))
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if f.AssignmentType != nil {
		args = append(args, string(*f.AssignmentType))
		where = append(where, fmt.Sprintf("assignment_type = $%d", len(args)))
	}
	if f.DriverID != nil {
		args = append(args, *f.DriverID)
		where = append(where, fmt.Sprintf("driver_id = $%d", len(args)))
	}
	if f.Unassigned {
		where = append(where, "driver_id IS NULL")
	}
	if f.NotExpired {
		where = append(where, "is_expired = FALSE")
	}
	if f.OpenWindowAt != nil {
		args = append(args, *f.OpenWindowAt)
		where = append(where, fmt.Sprintf("(expires_at IS NULL OR expires_at > $%d)", len(args)))
	}
	if f.HasExpiry {
		where = append(where, "expires_at IS NOT NULL")
	}
	if len(f.Categories) > 0 {
		args = append(args, pq.Array(f.Categories))
		where = append(where, fmt.Sprintf("category = ANY($%d)", len(args)))
	}
	return where, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanBooking maps a row onto the model in one place, so nullable column
// handling never leaks into query call sites.
func scanBooking(row rowScanner) (*models.Booking, error) {
	var b models.Booking
	var driverID, rejectionReason, paymentRef sql.NullString
	var assignmentType, status string
	var expiresAt, expiredAt, startedAt, pickedUpAt, droppedOffAt, completedAt sql.NullTime
	err := row.Scan(
		&b.ID, &b.OrderNumber, &b.RiderID, &b.Category, &b.PickupAddress, &b.DropoffAddress,
		&b.ActualPrice, &b.Price, &b.DriverPrice, &b.Commission, &assignmentType, &driverID, &status,
		&b.IsRejected, &rejectionReason, &b.IsExpired, &expiresAt, &expiredAt, &b.IsPaid, &paymentRef,
		&b.CreatedAt, &startedAt, &pickedUpAt, &droppedOffAt, &completedAt)
	if err != nil {
		return nil, err
	}
	b.AssignmentType = models.AssignmentType(assignmentType)
	b.Status = models.BookingStatus(status)
	b.DriverID = driverID.String
	b.RejectionReason = rejectionReason.String
	b.PaymentRef = paymentRef.String
	b.ExpiresAt = timePtr(expiresAt)
	b.ExpiredAt = timePtr(expiredAt)
	b.StartedAt = timePtr(startedAt)
	b.PickedUpAt = timePtr(pickedUpAt)
	b.DroppedOffAt = timePtr(droppedOffAt)
	b.CompletedAt = timePtr(completedAt)
	return &b, nil
}

func statusStrings(in []models.BookingStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
