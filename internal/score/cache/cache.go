// Package cache memoizes MIDI-to-Exercise compilation, per SPEC_FULL.md's
// score/cache component: the score loader's parse-and-group work is
// pure but not cheap, and a practice session restarts it every time the
// same file is reloaded. Grounded on internal/storage/db.go's
// sqlite-with-embedded-migrations pattern.
package cache

import (
	"bytes"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pianofollow/engine/internal/events"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func init() {
	// ExpectedGroup.PitchClasses is a mapset.Set[int] interface value;
	// gob needs the concrete implementation registered before it can
	// encode/decode through the interface.
	gob.Register(mapset.NewThreadUnsafeSet[int]())
}

// Cache wraps a SQLite connection memoizing compiled Exercises by
// content hash and hand filter, the same keying strategy the teacher
// uses for its content-addressed blob table.
type Cache struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if necessary) the cache database under dataDir
// and applies any pending migrations.
func Open(dataDir string, logger *slog.Logger) (*Cache, error) {
	dbPath := filepath.Join(dataDir, "score_cache.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("cache: failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: failed to enable WAL mode: %w", err)
	}

	c := &Cache{db: db, logger: logger}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: failed to run migrations: %w", err)
	}
	return c, nil
}

// Close closes the underlying database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) migrate() error {
	if _, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	row := c.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}
		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}
		c.logger.Info("applying migration", "version", version, "file", entry.Name())
		if _, err := c.db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", entry.Name(), err)
		}
		if _, err := c.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// Key derives the cache key for one (file bytes, hands filter)
// compilation request.
func Key(fileBytes []byte, hands events.Hand, filtered bool) string {
	sum := sha256.Sum256(fileBytes)
	handsPart := "unfiltered"
	if filtered {
		handsPart = hands.String()
	}
	return hex.EncodeToString(sum[:]) + ":" + handsPart
}

// Get returns the cached Exercise for key, or (nil, nil) on a miss.
func (c *Cache) Get(key string) (*events.Exercise, error) {
	var payload []byte
	err := c.db.QueryRow("SELECT payload FROM exercise_cache WHERE cache_key = ?", key).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: lookup failed: %w", err)
	}
	var ex events.Exercise
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&ex); err != nil {
		return nil, fmt.Errorf("cache: corrupt cached payload for key %s: %w", key, err)
	}
	return &ex, nil
}

// Put stores a compiled Exercise under key, overwriting any prior
// entry (a cache hit on a stale schema should be regenerated, not
// appended to).
func (c *Cache) Put(key string, ex *events.Exercise) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ex); err != nil {
		return fmt.Errorf("cache: failed to encode exercise: %w", err)
	}
	_, err := c.db.Exec(
		"INSERT INTO exercise_cache (cache_key, payload) VALUES (?, ?) ON CONFLICT(cache_key) DO UPDATE SET payload = excluded.payload",
		key, buf.Bytes(),
	)
	if err != nil {
		return fmt.Errorf("cache: failed to store exercise: %w", err)
	}
	return nil
}
