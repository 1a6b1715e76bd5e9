package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"sessiond/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the configured database and verifies connectivity.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case "mysql":
		params := dbCfg.Params
		if params == "" {
			params = "parseTime=true"
		}
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			dbCfg.Username,
			dbCfg.Password,
			dbCfg.Host,
			dbCfg.Port,
			dbCfg.DBName,
			params,
		)
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the required tables are present. Patients and practitioners
// are owned by sibling modules; minimal versions are created here so the
// session foreign keys resolve in standalone and test deployments.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS patients (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS practitioners (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS clinical_sessions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				patient_id INTEGER NOT NULL,
				practitioner_id INTEGER NOT NULL,
				session_date TEXT NOT NULL,
				start_time TEXT NOT NULL,
				end_time TEXT,
				session_type TEXT NOT NULL,
				summary TEXT,
				progress_note TEXT,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				FOREIGN KEY(patient_id) REFERENCES patients(id) ON DELETE CASCADE,
				FOREIGN KEY(practitioner_id) REFERENCES practitioners(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_practitioner ON clinical_sessions(practitioner_id)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_practitioner_date ON clinical_sessions(practitioner_id, session_date)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS patients (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				name VARCHAR(255) NOT NULL,
				PRIMARY KEY (id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS practitioners (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				name VARCHAR(255) NOT NULL,
				PRIMARY KEY (id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS clinical_sessions (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				patient_id BIGINT UNSIGNED NOT NULL,
				practitioner_id BIGINT UNSIGNED NOT NULL,
				session_date DATE NOT NULL,
				start_time TIME NOT NULL,
				end_time TIME,
				session_type ENUM('assessment', 'individual_therapy', 'neuropsychological', 'other') NOT NULL,
				summary TEXT,
				progress_note TEXT,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_sessions_practitioner (practitioner_id),
				INDEX idx_sessions_practitioner_date (practitioner_id, session_date),
				CONSTRAINT fk_sessions_patient FOREIGN KEY (patient_id) REFERENCES patients(id) ON DELETE CASCADE,
				CONSTRAINT fk_sessions_practitioner FOREIGN KEY (practitioner_id) REFERENCES practitioners(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}
