package infra

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	// Ensure sqlcipher driver is registered.
	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/weblate/distributor/internal/domain"
)

const (
	permissionsDBName = "permissions.db"

	holderGroup   = "group"
	holderSubject = "subject"
)

// EncryptedPermissionStore implements domain.PermissionStore using a
// SQLCipher encrypted SQLite database.
type EncryptedPermissionStore struct {
	db     *sql.DB
	dbPath string
}

// NewEncryptedPermissionStore opens (or creates) the encrypted database in
// dataDir. The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedPermissionStore(dataDir string, key []byte) (*EncryptedPermissionStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, permissionsDBName)
	keyHex := hex.EncodeToString(key)

	// Open with SQLCipher key as DSN parameter
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	// A wrong key only surfaces on the first real read
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	store := &EncryptedPermissionStore{db: db, dbPath: dbPath}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

func (s *EncryptedPermissionStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS groups (
		name TEXT PRIMARY KEY,
		weight INTEGER NOT NULL DEFAULT 0,
		position INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS subjects (
		id TEXT PRIMARY KEY,
		position INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS parents (
		holder_kind TEXT NOT NULL,
		holder TEXT NOT NULL,
		position INTEGER NOT NULL,
		parent TEXT NOT NULL,
		PRIMARY KEY (holder_kind, holder, position)
	);

	CREATE TABLE IF NOT EXISTS nodes (
		holder_kind TEXT NOT NULL,
		holder TEXT NOT NULL,
		node TEXT NOT NULL,
		value INTEGER NOT NULL,
		PRIMARY KEY (holder_kind, holder, node)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Load reads the whole table. An empty database yields an empty table.
func (s *EncryptedPermissionStore) Load() (domain.PermissionTable, error) {
	var table domain.PermissionTable

	settings, err := s.settings()
	if err != nil {
		return table, err
	}
	table.DefaultGroup = settings["default_group"]
	table.VerifyOperator = settings["verify_operator"] == "true"

	parents, err := s.parents()
	if err != nil {
		return table, err
	}
	nodes, err := s.nodes()
	if err != nil {
		return table, err
	}

	rows, err := s.db.Query(`SELECT name, weight FROM groups ORDER BY position`)
	if err != nil {
		return table, fmt.Errorf("failed to read groups: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var g domain.Group
		if err := rows.Scan(&g.Name, &g.Weight); err != nil {
			return table, err
		}
		key := holderKey(holderGroup, g.Name)
		g.Parents = parents[key]
		g.Permissions = nodes[key]
		table.Groups = append(table.Groups, g)
	}
	if err := rows.Err(); err != nil {
		return table, err
	}

	subRows, err := s.db.Query(`SELECT id FROM subjects ORDER BY position`)
	if err != nil {
		return table, fmt.Errorf("failed to read subjects: %w", err)
	}
	defer subRows.Close()
	for subRows.Next() {
		var sub domain.Subject
		if err := subRows.Scan(&sub.ID); err != nil {
			return table, err
		}
		key := holderKey(holderSubject, sub.ID)
		sub.Parents = parents[key]
		sub.Permissions = nodes[key]
		table.Subjects = append(table.Subjects, sub)
	}
	return table, subRows.Err()
}

// Save replaces the stored table in one transaction.
func (s *EncryptedPermissionStore) Save(table domain.PermissionTable) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, stmt := range []string{
		`DELETE FROM settings`, `DELETE FROM groups`, `DELETE FROM subjects`,
		`DELETE FROM parents`, `DELETE FROM nodes`,
	} {
		if _, err = tx.Exec(stmt); err != nil {
			return err
		}
	}

	verify := "false"
	if table.VerifyOperator {
		verify = "true"
	}
	if _, err = tx.Exec(`INSERT INTO settings (key, value) VALUES ('default_group', ?), ('verify_operator', ?)`,
		table.DefaultGroup, verify); err != nil {
		return err
	}

	for i, g := range table.Groups {
		if _, err = tx.Exec(`INSERT INTO groups (name, weight, position) VALUES (?, ?, ?)`,
			g.Name, g.Weight, i); err != nil {
			return fmt.Errorf("group %q: %w", g.Name, err)
		}
		if err = insertHolder(tx, holderGroup, g.Name, g.Parents, g.Permissions); err != nil {
			return err
		}
	}
	for i, sub := range table.Subjects {
		if _, err = tx.Exec(`INSERT INTO subjects (id, position) VALUES (?, ?)`, sub.ID, i); err != nil {
			return fmt.Errorf("subject %q: %w", sub.ID, err)
		}
		if err = insertHolder(tx, holderSubject, sub.ID, sub.Parents, sub.Permissions); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit permissions: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *EncryptedPermissionStore) Path() string {
	return s.dbPath
}

// Close releases the database connection.
func (s *EncryptedPermissionStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func insertHolder(tx *sql.Tx, kind, id string, parents []string, nodes map[string]domain.Tristate) error {
	for i, p := range parents {
		if _, err := tx.Exec(`INSERT INTO parents (holder_kind, holder, position, parent) VALUES (?, ?, ?, ?)`,
			kind, id, i, p); err != nil {
			return fmt.Errorf("%s %q parent %q: %w", kind, id, p, err)
		}
	}
	for node, v := range nodes {
		if v == domain.Unset {
			continue
		}
		if _, err := tx.Exec(`INSERT INTO nodes (holder_kind, holder, node, value) VALUES (?, ?, ?, ?)`,
			kind, id, node, int(v)); err != nil {
			return fmt.Errorf("%s %q node %q: %w", kind, id, node, err)
		}
	}
	return nil
}

func (s *EncryptedPermissionStore) settings() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *EncryptedPermissionStore) parents() (map[string][]string, error) {
	rows, err := s.db.Query(`SELECT holder_kind, holder, parent FROM parents ORDER BY holder_kind, holder, position`)
	if err != nil {
		return nil, fmt.Errorf("failed to read parents: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var kind, holder, parent string
		if err := rows.Scan(&kind, &holder, &parent); err != nil {
			return nil, err
		}
		key := holderKey(kind, holder)
		out[key] = append(out[key], parent)
	}
	return out, rows.Err()
}

func (s *EncryptedPermissionStore) nodes() (map[string]map[string]domain.Tristate, error) {
	rows, err := s.db.Query(`SELECT holder_kind, holder, node, value FROM nodes`)
	if err != nil {
		return nil, fmt.Errorf("failed to read nodes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string]domain.Tristate)
	for rows.Next() {
		var kind, holder, node string
		var value int
		if err := rows.Scan(&kind, &holder, &node, &value); err != nil {
			return nil, err
		}
		v := domain.Tristate(value)
		if v != domain.Granted && v != domain.Denied {
			return nil, fmt.Errorf("%s %q node %q: %w", kind, holder, node, errInvalidTristate)
		}
		key := holderKey(kind, holder)
		if out[key] == nil {
			out[key] = make(map[string]domain.Tristate)
		}
		out[key][node] = v
	}
	return out, rows.Err()
}

var errInvalidTristate = errors.New("stored value is neither granted nor denied")

func holderKey(kind, id string) string {
	return kind + "\x00" + id
}

// Ensure EncryptedPermissionStore implements domain.PermissionStore.
var _ domain.PermissionStore = (*EncryptedPermissionStore)(nil)
