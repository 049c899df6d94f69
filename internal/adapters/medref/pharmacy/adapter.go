// Package pharmacy implements the medicine reference adapter against the
// legacy hospital pharmacy system, read directly from its SQL Server
// database. The pharmacy system owns the schema; access is read-only.
package pharmacy

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/denisenkom/go-mssqldb" // SQL Server driver

	"github.com/hiv-care-hub/platform/internal/adapters/medref"
	"github.com/hiv-care-hub/platform/internal/shared/config"
	"github.com/hiv-care-hub/platform/internal/shared/types"
)

// Adapter implements medref.Adapter for the legacy pharmacy database
type Adapter struct {
	db     *sql.DB
	config Config
}

var _ medref.Adapter = (*Adapter)(nil)

// Config holds pharmacy adapter configuration
type Config struct {
	config.PharmacyConfig

	// MedicineTable is the stock item table in the pharmacy schema
	MedicineTable string
}

// DefaultConfig returns default pharmacy adapter configuration
func DefaultConfig(cfg config.PharmacyConfig) Config {
	return Config{
		PharmacyConfig: cfg,
		MedicineTable:  "dbo.StockItems",
	}
}

// New opens a connection to the pharmacy database
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	connStr := fmt.Sprintf("server=%s;port=%d;database=%s;user id=%s;password=%s",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password)
	if cfg.Encrypt {
		connStr += ";encrypt=true;TrustServerCertificate=true"
	}

	db, err := sql.Open("sqlserver", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open pharmacy database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping pharmacy database: %w", err)
	}

	return &Adapter{db: db, config: cfg}, nil
}

// Close closes the database connection
func (a *Adapter) Close() error {
	return a.db.Close()
}

// ListMedicines returns one page of the pharmacy stock list
func (a *Adapter) ListMedicines(ctx context.Context, page medref.Page) ([]medref.Medicine, int, error) {
	if page.Limit <= 0 {
		page.Limit = 100
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE Active = 1", a.config.MedicineTable)
	if err := a.db.QueryRowContext(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count medicines: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT ItemGuid, ItemName, ISNULL(ItemDescription, ''), DoseValue, DoseUnit, UnitPrice
		FROM %s
		WHERE Active = 1
		ORDER BY ItemName
		OFFSET @p1 ROWS FETCH NEXT @p2 ROWS ONLY`, a.config.MedicineTable)

	rows, err := a.db.QueryContext(ctx, query, page.Offset, page.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query medicines: %w", err)
	}
	defer rows.Close()

	var medicines []medref.Medicine
	for rows.Next() {
		var m medref.Medicine
		if err := rows.Scan(&m.ID, &m.Name, &m.Description, &m.Dose, &m.Unit, &m.Price); err != nil {
			return nil, 0, fmt.Errorf("failed to scan medicine row: %w", err)
		}
		medicines = append(medicines, m)
	}

	return medicines, total, rows.Err()
}

// GetMedicine fetches a single stock item by id
func (a *Adapter) GetMedicine(ctx context.Context, id types.ID) (*medref.Medicine, error) {
	query := fmt.Sprintf(`
		SELECT ItemGuid, ItemName, ISNULL(ItemDescription, ''), DoseValue, DoseUnit, UnitPrice
		FROM %s
		WHERE ItemGuid = @p1`, a.config.MedicineTable)

	var m medref.Medicine
	err := a.db.QueryRowContext(ctx, query, id.String()).
		Scan(&m.ID, &m.Name, &m.Description, &m.Dose, &m.Unit, &m.Price)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("medicine %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch medicine: %w", err)
	}
	return &m, nil
}

// SourceSystem identifies the adapter implementation
func (a *Adapter) SourceSystem() string { return "pharmacy-mssql" }

// Health checks the database connection
func (a *Adapter) Health(ctx context.Context) error {
	return a.db.PingContext(ctx)
}
