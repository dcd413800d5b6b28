package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS calculations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    alpha REAL NOT NULL,
    confidence REAL NOT NULL,
    sample_size INTEGER NOT NULL,
    tail TEXT NOT NULL,
    df INTEGER NOT NULL,
    t_critical REAL NOT NULL,
    r_critical REAL NOT NULL,
    source TEXT NOT NULL DEFAULT 'alpha',
    notes TEXT,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_calculations_created ON calculations(created_at);
CREATE INDEX IF NOT EXISTS idx_calculations_tail ON calculations(tail);
`

type DB struct {
	*sql.DB
	path string
}

func (db *DB) Path() string {
	return db.path
}

func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := dbPath
	if strings.Contains(dbPath, "?") {
		dsn += "&_pragma=busy_timeout(5000)"
	} else {
		dsn += "?_pragma=busy_timeout(5000)"
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := sqlDB.Exec(schemaSQL); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &DB{DB: sqlDB, path: dbPath}, nil
}

// Calculation is one recorded critical-value computation.
type Calculation struct {
	ID         int64
	Alpha      float64
	Confidence float64
	SampleSize int
	Tail       string
	DF         int
	TCritical  float64
	RCritical  float64
	Source     string
	Notes      string
	CreatedAt  string
}

// ListFilter narrows ListCalculations. Zero values mean no filter.
type ListFilter struct {
	Limit int
	Tail  string
	Since string
}

const calculationColumns = `id, alpha, confidence, sample_size, tail, df, t_critical, r_critical, source, notes, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCalculation(row rowScanner) (*Calculation, error) {
	var c Calculation
	var notes sql.NullString
	if err := row.Scan(&c.ID, &c.Alpha, &c.Confidence, &c.SampleSize, &c.Tail, &c.DF,
		&c.TCritical, &c.RCritical, &c.Source, &notes, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Notes = notes.String
	return &c, nil
}

func (db *DB) InsertCalculation(c *Calculation) (int64, error) {
	res, err := db.Exec(`
		INSERT INTO calculations (alpha, confidence, sample_size, tail, df, t_critical, r_critical, source, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Alpha, c.Confidence, c.SampleSize, c.Tail, c.DF,
		c.TCritical, c.RCritical, c.Source, c.Notes, c.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (db *DB) ListCalculations(f ListFilter) ([]Calculation, error) {
	query := `SELECT ` + calculationColumns + ` FROM calculations WHERE 1=1`
	args := []interface{}{}

	if f.Tail != "" {
		query += " AND tail = ?"
		args = append(args, f.Tail)
	}
	if f.Since != "" {
		query += " AND created_at >= ?"
		args = append(args, f.Since)
	}

	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calcs []Calculation
	for rows.Next() {
		c, err := scanCalculation(rows)
		if err != nil {
			return nil, err
		}
		calcs = append(calcs, *c)
	}
	return calcs, rows.Err()
}

func (db *DB) GetCalculation(id int64) (*Calculation, error) {
	return scanCalculation(db.QueryRow(`SELECT `+calculationColumns+` FROM calculations WHERE id = ?`, id))
}

func (db *DB) GetLatestCalculation() (*Calculation, error) {
	return scanCalculation(db.QueryRow(`SELECT ` + calculationColumns + ` FROM calculations ORDER BY created_at DESC, id DESC LIMIT 1`))
}

func (db *DB) CountCalculations() (int, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM calculations`).Scan(&count)
	return count, err
}

// DeleteCalculation returns sql.ErrNoRows when id does not exist.
func (db *DB) DeleteCalculation(id int64) error {
	res, err := db.Exec(`DELETE FROM calculations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (db *DB) DeleteCalculationsBefore(date string) (int64, error) {
	res, err := db.Exec(`DELETE FROM calculations WHERE created_at < ?`, date)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
