package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"media-vault/internal/logging"
	"media-vault/internal/metrics"
)

// Default timeout for database operations
const defaultTimeout = 5 * time.Second

// Database manages all persistent state: file records, tags and their
// relations, import batches, and the deleted-hash ledger.
type Database struct {
	db      *sql.DB
	dbPath  string
	mu      sync.RWMutex
	txStart time.Time
}

// New opens (creating if necessary) the SQLite database at dbPath. The
// parent directory must already exist and be writable; use config.Load to
// validate directories before calling this.
func New(ctx context.Context, dbPath string) (*Database, error) {
	logging.Info("Database path: %s", dbPath)

	if err := diagnosePermissions(dbPath); err != nil {
		logging.Warn("Database permission diagnostics: %v", err)
	}

	// WAL mode plus busy_timeout prevents "database is locked" errors when
	// import workers and command handlers write concurrently.
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000&_temp_store=MEMORY&_busy_timeout=5000&_foreign_keys=on", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	d := &Database{
		db:     db,
		dbPath: dbPath,
	}

	if err := d.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	logging.Info("Database initialized successfully at %s", dbPath)
	return d, nil
}

func (d *Database) initialize(ctx context.Context) error {
	schema := `
	-- One row per distinct content hash.
	CREATE TABLE IF NOT EXISTS files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		hash TEXT NOT NULL UNIQUE,
		original_hash TEXT NOT NULL,
		path TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		duration REAL NOT NULL DEFAULT 0,
		codec TEXT NOT NULL DEFAULT '',
		thumb_path TEXT NOT NULL DEFAULT '',
		is_corrupted INTEGER NOT NULL DEFAULT 0,
		collection_id INTEGER,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		FOREIGN KEY (collection_id) REFERENCES collections(id) ON DELETE SET NULL
	);

	CREATE INDEX IF NOT EXISTS idx_files_hash ON files(hash);
	CREATE INDEX IF NOT EXISTS idx_files_original_hash ON files(original_hash);
	CREATE INDEX IF NOT EXISTS idx_files_collection ON files(collection_id);

	CREATE TABLE IF NOT EXISTS tags (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		label TEXT NOT NULL UNIQUE COLLATE NOCASE,
		aliases TEXT NOT NULL DEFAULT '[]',
		regex_pattern TEXT NOT NULL DEFAULT '',
		regex_targets INTEGER NOT NULL DEFAULT 0,
		count INTEGER NOT NULL DEFAULT 0,
		count_with_sub INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	CREATE INDEX IF NOT EXISTS idx_tags_label ON tags(label COLLATE NOCASE);

	-- Edge list; closures live in memory and in file_tag_ancestors.
	CREATE TABLE IF NOT EXISTS tag_relations (
		parent_id INTEGER NOT NULL,
		child_id INTEGER NOT NULL,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		PRIMARY KEY (parent_id, child_id),
		FOREIGN KEY (parent_id) REFERENCES tags(id) ON DELETE CASCADE,
		FOREIGN KEY (child_id) REFERENCES tags(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_tag_relations_child ON tag_relations(child_id);

	-- Direct tag attachments.
	CREATE TABLE IF NOT EXISTS file_tags (
		file_id INTEGER NOT NULL,
		tag_id INTEGER NOT NULL,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		PRIMARY KEY (file_id, tag_id),
		FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE,
		FOREIGN KEY (tag_id) REFERENCES tags(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_file_tags_tag ON file_tags(tag_id);

	-- Denormalized closure: direct tags plus every ancestor, per file.
	CREATE TABLE IF NOT EXISTS file_tag_ancestors (
		file_id INTEGER NOT NULL,
		tag_id INTEGER NOT NULL,
		PRIMARY KEY (file_id, tag_id),
		FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE,
		FOREIGN KEY (tag_id) REFERENCES tags(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_file_tag_ancestors_tag ON file_tag_ancestors(tag_id);

	CREATE TABLE IF NOT EXISTS collections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	CREATE TABLE IF NOT EXISTS import_batches (
		id TEXT PRIMARY KEY,
		collection_id INTEGER,
		tag_ids TEXT NOT NULL DEFAULT '[]',
		delete_on_import INTEGER NOT NULL DEFAULT 0,
		ignore_prev_deleted INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		started_at INTEGER,
		completed_at INTEGER,
		FOREIGN KEY (collection_id) REFERENCES collections(id) ON DELETE SET NULL
	);

	CREATE TABLE IF NOT EXISTS import_items (
		id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL,
		path TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		error_msg TEXT NOT NULL DEFAULT '',
		file_id INTEGER,
		thumb_path TEXT NOT NULL DEFAULT '',
		tag_ids TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		FOREIGN KEY (batch_id) REFERENCES import_batches(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_import_items_batch ON import_items(batch_id);
	CREATE INDEX IF NOT EXISTS idx_import_items_status ON import_items(status);

	-- Hashes the user explicitly deleted; consulted on re-import.
	CREATE TABLE IF NOT EXISTS deleted_hashes (
		hash TEXT PRIMARY KEY,
		deleted_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);
	`

	_, err := d.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// BeginBatch starts a transaction for multi-statement operations. The caller
// is responsible for calling EndBatch when done.
func (d *Database) BeginBatch() (*sql.Tx, error) {
	d.mu.Lock()
	txStart := time.Now()

	// Background context: transaction lifetime is managed by EndBatch, not
	// a timeout. A deferred cancel here would kill the transaction on return.
	tx, err := d.db.BeginTx(context.Background(), nil)
	d.mu.Unlock()

	if err != nil {
		return nil, err
	}

	d.txStart = txStart
	return tx, nil
}

// EndBatch commits or rolls back a transaction depending on err.
func (d *Database) EndBatch(tx *sql.Tx, err error) error {
	duration := time.Since(d.txStart).Seconds()

	if err != nil {
		metrics.DBTransactionDuration.WithLabelValues("rollback").Observe(duration)
		rbErr := tx.Rollback()
		if rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback also failed: %w", rbErr))
		}
		return err
	}

	metrics.DBTransactionDuration.WithLabelValues("commit").Observe(duration)
	return tx.Commit()
}

// Vacuum optimizes the database.
func (d *Database) Vacuum() error {
	start := time.Now()
	var err error
	defer func() { recordQuery("vacuum", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	_, err = d.db.ExecContext(ctx, "VACUUM")
	return err
}

// recordQuery records database query metrics
func recordQuery(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(duration)
}

// UpdateDBMetrics updates database connection metrics
func (d *Database) UpdateDBMetrics() {
	stats := d.db.Stats()
	metrics.DBConnectionsOpen.Set(float64(stats.OpenConnections))
}

// diagnosePermissions checks database directory and file permissions
func diagnosePermissions(dbPath string) error {
	dir := filepath.Dir(dbPath)

	dirInfo, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("cannot stat database directory: %w", err)
	}

	logging.Debug("Database directory: %s (mode: %v)", dir, dirInfo.Mode())

	testFile := filepath.Join(dir, ".perm-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return fmt.Errorf("database directory not writable: %w", err)
	}
	_ = os.Remove(testFile)

	if dbInfo, err := os.Stat(dbPath); err == nil {
		logging.Debug("Database file exists: %s (mode: %v, size: %d bytes)", dbPath, dbInfo.Mode(), dbInfo.Size())
		if dbInfo.Mode().Perm()&0o200 == 0 {
			logging.Warn("Database file is read-only! Mode: %v", dbInfo.Mode())
		}
	}

	// WAL side files turning read-only causes confusing write failures.
	for _, suffix := range []string{"-wal", "-shm"} {
		sidePath := dbPath + suffix
		info, err := os.Stat(sidePath)
		if err != nil {
			continue
		}
		if info.Mode().Perm()&0o200 == 0 {
			logging.Warn("%s file is read-only! Mode: %v", sidePath, info.Mode())
			if chmodErr := os.Chmod(sidePath, 0o600); chmodErr != nil {
				logging.Error("Failed to fix %s permissions: %v", sidePath, chmodErr)
			} else {
				logging.Info("Fixed %s permissions", sidePath)
			}
		}
	}

	return nil
}
