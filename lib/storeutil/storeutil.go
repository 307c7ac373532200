package storeutil

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// Config selects the backing database for local caches. File opens an
// embedded sqlite database, Url points at a remote libsql server.
type Config struct {
	File      string `json:"file"`
	Url       string `json:"url"`
	AuthToken string `json:"auth_token"`
}

// opens the configured database and applies `schema` to it.
func (c Config) OpenDB(schema string) (*sql.DB, error) {
	var db *sql.DB
	var err error
	if c.Url != "" {
		db, err = openLibsql(c.Url, c.AuthToken)
	} else {
		if c.File == "" {
			return nil, fmt.Errorf("open db: a file or url must be specified")
		}
		db, err = OpenSqlite(c.File)
	}
	if err != nil {
		return nil, err
	}

	err = ApplySchema(db, schema)
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func wrapOpenDB(err error) error {
	return fmt.Errorf("open db: %w", err)
}

func OpenSqlite(path string) (*sql.DB, error) {
	if path != ":memory:" {
		os.MkdirAll(filepath.Dir(path), 0777)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrapOpenDB(err)
	}

	// see this stackoverflow post for information on why the following
	// lines exist: https://stackoverflow.com/questions/35804884/sqlite-concurrent-writing-performance
	db.SetMaxOpenConns(1)
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		return nil, wrapOpenDB(err)
	}

	return db, nil
}

func openLibsql(url, authToken string) (*sql.DB, error) {
	if authToken != "" {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url = fmt.Sprintf("%s%sauthToken=%s", url, sep, authToken)
	}
	db, err := sql.Open("libsql", url)
	if err != nil {
		return nil, wrapOpenDB(err)
	}
	return db, nil
}

// schema application ignores "already exists" errors so reopening an
// existing cache is safe.
func ApplySchema(db *sql.DB, schema string) error {
	if schema == "" {
		return nil
	}
	_, err := db.Exec(schema)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
