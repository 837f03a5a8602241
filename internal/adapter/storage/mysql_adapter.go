package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/oil-billing/internal/core/domain"
	"github.com/rl1809/oil-billing/internal/port"
)

const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrOutOfRange      = 1264
	mysqlErrDataTooLong     = 1406
	mysqlErrRowIsReferenced = 1451

	lineBarrelKey = "uq_invoice_lines_barrel"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// MySQLAdapter implements port.Store. Inside Execute it is rebound to the
// open transaction so every repository call joins it.
type MySQLAdapter struct {
	db *sql.DB
	q  querier
	tx *sql.Tx
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db, q: db}
}

var _ port.Store = (*MySQLAdapter)(nil)

func (m *MySQLAdapter) Execute(ctx context.Context, fn func(repo port.DatabaseRepository) error) error {
	if m.tx != nil {
		return fn(m)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	if err := fn(&MySQLAdapter{db: m.db, q: tx, tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

func (m *MySQLAdapter) CreateProvider(ctx context.Context, p domain.Provider) error {
	_, err := m.q.ExecContext(ctx, `
		INSERT INTO providers (id, name, address, tax_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Address, p.TaxID, p.CreatedAt,
	)
	if err != nil {
		return mapMySQLError(err, "insert provider")
	}
	return nil
}

func (m *MySQLAdapter) GetProvider(ctx context.Context, id string) (*domain.Provider, error) {
	row := m.q.QueryRowContext(ctx, `
		SELECT id, name, address, tax_id, created_at
		FROM providers WHERE id = ?`, id,
	)
	p, err := scanProvider(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrNotFound, "provider %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "query provider")
	}
	return p, nil
}

func (m *MySQLAdapter) ListProviders(ctx context.Context, filter domain.ProviderFilter) ([]domain.Provider, error) {
	query := `SELECT p.id, p.name, p.address, p.tax_id, p.created_at FROM providers p`
	if filter.HasBarrelsToBill != nil {
		exists := "EXISTS"
		if !*filter.HasBarrelsToBill {
			exists = "NOT EXISTS"
		}
		query += ` WHERE ` + exists + ` (SELECT 1 FROM barrels b WHERE b.provider_id = p.id AND b.billed = 0)`
	}
	query += ` ORDER BY p.name, p.id`

	rows, err := m.q.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "query providers")
	}
	defer rows.Close()

	var providers []domain.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan provider")
		}
		providers = append(providers, *p)
	}
	return providers, errors.Wrap(rows.Err(), "iterate providers")
}

func (m *MySQLAdapter) DeleteProvider(ctx context.Context, id string) error {
	return m.Execute(ctx, func(repo port.DatabaseRepository) error {
		tx := repo.(*MySQLAdapter)

		// Lines hold a restricting key on barrels, so they go before the cascade.
		if _, err := tx.q.ExecContext(ctx, `
			DELETE l FROM invoice_lines l
			JOIN invoices i ON i.id = l.invoice_id
			WHERE i.provider_id = ?`, id,
		); err != nil {
			return mapMySQLError(err, "delete provider lines")
		}

		result, err := tx.q.ExecContext(ctx, `DELETE FROM providers WHERE id = ?`, id)
		if err != nil {
			return mapMySQLError(err, "delete provider")
		}
		return requireAffected(result, errors.Wrapf(domain.ErrNotFound, "provider %s", id))
	})
}

func (m *MySQLAdapter) CreateBarrel(ctx context.Context, b domain.Barrel) error {
	_, err := m.q.ExecContext(ctx, `
		INSERT INTO barrels (id, provider_id, number, oil_type, liters, billed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.ProviderID, b.Number, string(b.OilType), b.Liters, b.Billed, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return mapMySQLError(err, "insert barrel")
	}
	return nil
}

func (m *MySQLAdapter) GetBarrel(ctx context.Context, id string) (*domain.Barrel, error) {
	return m.getBarrel(ctx, id, "")
}

func (m *MySQLAdapter) GetBarrelForUpdate(ctx context.Context, id string) (*domain.Barrel, error) {
	return m.getBarrel(ctx, id, " FOR UPDATE")
}

func (m *MySQLAdapter) getBarrel(ctx context.Context, id, lock string) (*domain.Barrel, error) {
	row := m.q.QueryRowContext(ctx, `
		SELECT id, provider_id, number, oil_type, liters, billed, created_at, updated_at
		FROM barrels WHERE id = ?`+lock, id,
	)
	b, err := scanBarrel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrNotFound, "barrel %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "query barrel")
	}
	return b, nil
}

func (m *MySQLAdapter) ListBarrels(ctx context.Context, filter domain.BarrelFilter) ([]domain.Barrel, error) {
	var (
		conds []string
		args  []any
	)
	if filter.ProviderID != "" {
		conds = append(conds, "provider_id = ?")
		args = append(args, filter.ProviderID)
	}
	if filter.Billed != nil {
		conds = append(conds, "billed = ?")
		args = append(args, *filter.Billed)
	}

	query := `SELECT id, provider_id, number, oil_type, liters, billed, created_at, updated_at FROM barrels`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY provider_id, number`

	rows, err := m.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query barrels")
	}
	defer rows.Close()

	var barrels []domain.Barrel
	for rows.Next() {
		b, err := scanBarrel(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan barrel")
		}
		barrels = append(barrels, *b)
	}
	return barrels, errors.Wrap(rows.Err(), "iterate barrels")
}

func (m *MySQLAdapter) SumLiters(ctx context.Context, providerID string, billed bool) (float64, error) {
	var total sql.NullInt64
	err := m.q.QueryRowContext(ctx, `
		SELECT SUM(liters) FROM barrels
		WHERE provider_id = ? AND billed = ?`, providerID, billed,
	).Scan(&total)
	if err != nil {
		return 0, errors.Wrap(err, "sum barrel liters")
	}
	return float64(total.Int64), nil
}

func (m *MySQLAdapter) MarkBilled(ctx context.Context, id string) error {
	result, err := m.q.ExecContext(ctx, `
		UPDATE barrels
		SET billed = 1, updated_at = ?
		WHERE id = ? AND billed = 0`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return errors.Wrap(err, "update barrel")
	}
	return requireAffected(result, errors.Wrapf(domain.ErrAlreadyBilled, "barrel %s", id))
}

func (m *MySQLAdapter) DeleteBarrel(ctx context.Context, id string) error {
	result, err := m.q.ExecContext(ctx, `DELETE FROM barrels WHERE id = ?`, id)
	if err != nil {
		return mapMySQLError(err, "delete barrel")
	}
	return requireAffected(result, errors.Wrapf(domain.ErrNotFound, "barrel %s", id))
}

func (m *MySQLAdapter) CreateInvoice(ctx context.Context, inv domain.Invoice) error {
	_, err := m.q.ExecContext(ctx, `
		INSERT INTO invoices (id, invoice_no, issued_on, provider_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		inv.ID, inv.InvoiceNo, inv.IssuedOn, inv.ProviderID, inv.CreatedAt,
	)
	if err != nil {
		return mapMySQLError(err, "insert invoice")
	}
	return nil
}

func (m *MySQLAdapter) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	return m.getInvoice(ctx, id, "")
}

func (m *MySQLAdapter) GetInvoiceForUpdate(ctx context.Context, id string) (*domain.Invoice, error) {
	return m.getInvoice(ctx, id, " FOR UPDATE")
}

func (m *MySQLAdapter) getInvoice(ctx context.Context, id, lock string) (*domain.Invoice, error) {
	row := m.q.QueryRowContext(ctx, `
		SELECT id, invoice_no, issued_on, provider_id, created_at
		FROM invoices WHERE id = ?`+lock, id,
	)
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrNotFound, "invoice %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "query invoice")
	}
	return inv, nil
}

func (m *MySQLAdapter) ListInvoices(ctx context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, error) {
	var (
		conds []string
		args  []any
	)
	if filter.InvoiceNo != "" {
		conds = append(conds, `LOWER(invoice_no) LIKE ? ESCAPE '\\'`)
		args = append(args, "%"+escapeLike(strings.ToLower(filter.InvoiceNo))+"%")
	}
	if filter.IssuedAfter != nil {
		conds = append(conds, "issued_on >= ?")
		args = append(args, domain.DateOf(*filter.IssuedAfter))
	}
	if filter.IssuedBefore != nil {
		conds = append(conds, "issued_on <= ?")
		args = append(args, domain.DateOf(*filter.IssuedBefore))
	}
	if filter.ProviderID != "" {
		conds = append(conds, "provider_id = ?")
		args = append(args, filter.ProviderID)
	}

	query := `SELECT id, invoice_no, issued_on, provider_id, created_at FROM invoices`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY issued_on DESC, invoice_no`

	rows, err := m.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query invoices")
	}
	defer rows.Close()

	var invoices []domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan invoice")
		}
		invoices = append(invoices, *inv)
	}
	return invoices, errors.Wrap(rows.Err(), "iterate invoices")
}

func (m *MySQLAdapter) AddLine(ctx context.Context, l domain.InvoiceLine) error {
	_, err := m.q.ExecContext(ctx, `
		INSERT INTO invoice_lines (id, invoice_id, barrel_id, position, liters, description, unit_price, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.InvoiceID, l.BarrelID, l.Position, l.Liters, l.Description, l.UnitPrice, l.CreatedAt,
	)
	if err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == mysqlErrDuplicateEntry && strings.Contains(myErr.Message, lineBarrelKey) {
			return errors.Wrapf(domain.ErrAlreadyBilled, "barrel %s", l.BarrelID)
		}
		return mapMySQLError(err, "insert invoice line")
	}
	return nil
}

func (m *MySQLAdapter) ListLines(ctx context.Context, invoiceID string) ([]domain.InvoiceLine, error) {
	rows, err := m.q.QueryContext(ctx, `
		SELECT id, invoice_id, barrel_id, position, liters, description, unit_price, created_at
		FROM invoice_lines WHERE invoice_id = ?
		ORDER BY position`, invoiceID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query invoice lines")
	}
	defer rows.Close()

	var lines []domain.InvoiceLine
	for rows.Next() {
		var l domain.InvoiceLine
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.BarrelID, &l.Position, &l.Liters,
			&l.Description, &l.UnitPrice, &l.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan invoice line")
		}
		lines = append(lines, l)
	}
	return lines, errors.Wrap(rows.Err(), "iterate invoice lines")
}

func (m *MySQLAdapter) CountLines(ctx context.Context, invoiceID string) (int, error) {
	var n int
	err := m.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM invoice_lines WHERE invoice_id = ?`, invoiceID).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "count invoice lines")
	}
	return n, nil
}

func scanProvider(row rowScanner) (*domain.Provider, error) {
	var p domain.Provider
	if err := row.Scan(&p.ID, &p.Name, &p.Address, &p.TaxID, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanBarrel(row rowScanner) (*domain.Barrel, error) {
	var (
		b       domain.Barrel
		oilType string
	)
	if err := row.Scan(&b.ID, &b.ProviderID, &b.Number, &oilType, &b.Liters, &b.Billed,
		&b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.OilType = domain.OilType(oilType)
	return &b, nil
}

func scanInvoice(row rowScanner) (*domain.Invoice, error) {
	var inv domain.Invoice
	if err := row.Scan(&inv.ID, &inv.InvoiceNo, &inv.IssuedOn, &inv.ProviderID, &inv.CreatedAt); err != nil {
		return nil, err
	}
	return &inv, nil
}

func mapMySQLError(err error, op string) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlErrDuplicateEntry:
			return errors.Wrapf(domain.ErrAlreadyExists, "%s: %s", op, myErr.Message)
		case mysqlErrRowIsReferenced:
			return errors.Wrap(domain.ErrBarrelReferenced, op)
		case mysqlErrOutOfRange, mysqlErrDataTooLong:
			return errors.Wrapf(domain.ErrInvalidInput, "%s: %s", op, myErr.Message)
		}
	}
	return errors.Wrap(err, op)
}

func requireAffected(result sql.Result, notAffected error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if rows == 0 {
		return notAffected
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
