// Package history keeps a SQL ledger of pass outcomes per repository, so
// operators can see what repotend changed and what failed across runs.
package history

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/achille-roussel/sqlrange"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/stdlib" // database/sql compatible driver for pgx
	sqldblogger "github.com/simukti/sqldb-logger"
	"github.com/simukti/sqldb-logger/logadapter/zerologadapter"
	"modernc.org/sqlite"

	"github.com/repotend/repotend/internal/config"
	"github.com/repotend/repotend/internal/logging"
)

const (
	kindSQLite = iota
	kindPostgres
	kindMySQL
)

const SQLiteMemoryOnlyDSN = "file::memory:?cache=shared"

// Outcome values recorded besides the pass outcomes themselves.
const (
	OutcomeFailed     = "failed"
	OutcomeSyncFailed = "sync_failed"
	OutcomePushFailed = "push_failed"
	OutcomePushed     = "pushed"
)

// Entry is one recorded event.
type Entry struct {
	Time       time.Time
	Repository string
	Pass       string
	Outcome    string
	Message    string
}

type row struct {
	RecordedAt int64  `sql:"recorded_at"`
	Repository string `sql:"repository"`
	Pass       string `sql:"pass_name"`
	Outcome    string `sql:"outcome"`
	Message    string `sql:"message"`
}

// Ledger records entries in a SQL database. A nil *Ledger records nothing.
type Ledger struct {
	db   *sql.DB
	kind int
	log  *logging.Logger
}

// Open connects to the configured database and creates the ledger table if
// needed. Statements are logged at debug level.
func Open(ctx context.Context, cfg *config.Database, log *logging.Logger) (*Ledger, error) {
	var drv driver.Driver
	var dsn string
	kind := kindSQLite

	switch {
	case cfg == nil || cfg.SQL == nil:
		drv, dsn = &sqlite.Driver{}, SQLiteMemoryOnlyDSN
	case cfg.SQL.Driver == "sqlite" || cfg.SQL.Driver == "sqlite3":
		drv, dsn = &sqlite.Driver{}, os.ExpandEnv(cfg.SQL.DSN)
		if dsn == "" {
			dsn = SQLiteMemoryOnlyDSN
		}
	case cfg.SQL.Driver == "postgres" || cfg.SQL.Driver == "pgx":
		drv, dsn, kind = stdlib.GetDefaultDriver(), os.ExpandEnv(cfg.SQL.DSN), kindPostgres
	case cfg.SQL.Driver == "mysql":
		dsn = os.ExpandEnv(cfg.SQL.DSN)
		if _, err := mysqldriver.ParseDSN(dsn); err != nil {
			return nil, err
		}
		drv, kind = &mysqldriver.MySQLDriver{}, kindMySQL
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.SQL.Driver)
	}

	db := sqldblogger.OpenDriver(dsn, drv, zerologadapter.New(log.Zerolog()),
		sqldblogger.WithMinimumLevel(sqldblogger.LevelDebug),
		sqldblogger.WithSQLQueryAsMessage(true),
	)

	l := &Ledger{db: db, kind: kind, log: log}
	if err := l.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Debugf("History ledger opened (%s)", l.dialect())
	return l, nil
}

func (l *Ledger) dialect() string {
	switch l.kind {
	case kindPostgres:
		return "postgresql"
	case kindMySQL:
		return "mysql"
	default:
		return "sqlite"
	}
}

func (l *Ledger) init(ctx context.Context) error {
	text := "TEXT"
	if l.kind == kindMySQL {
		text = "VARCHAR(255)"
	}

	_, err := l.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS repotend_history (
	recorded_at BIGINT NOT NULL,
	repository `+text+` NOT NULL,
	pass_name `+text+` NOT NULL,
	outcome `+text+` NOT NULL,
	message TEXT NOT NULL
)`)
	return err
}

// Record stores e. The zero Time is replaced with the current time.
func (l *Ledger) Record(ctx context.Context, e Entry) error {
	if l == nil {
		return nil
	}

	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO repotend_history (recorded_at, repository, pass_name, outcome, message) VALUES (`+strings.Join(l.args(5), ", ")+`)`,
		e.Time.UnixMilli(), e.Repository, e.Pass, e.Outcome, e.Message)
	return err
}

type ListOptions struct {
	Repository string // Empty lists every repository.
	Limit      int    // Non-positive lists everything.
}

// List returns entries, most recent first.
func (l *Ledger) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	if l == nil {
		return nil, errors.New("history is not configured")
	}

	query := `SELECT recorded_at, repository, pass_name, outcome, message FROM repotend_history`
	var args []any
	if opts.Repository != "" {
		query += ` WHERE repository = ` + l.arg(0)
		args = append(args, opts.Repository)
	}
	query += ` ORDER BY recorded_at DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(opts.Limit)
	}

	var entries []Entry
	for r, err := range sqlrange.QueryContext[row](ctx, l.db, query, args...) {
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{
			Time:       time.UnixMilli(r.RecordedAt),
			Repository: r.Repository,
			Pass:       r.Pass,
			Outcome:    r.Outcome,
			Message:    r.Message,
		})
	}
	return entries, nil
}

func (l *Ledger) Close() error {
	if l == nil {
		return nil
	}
	return l.db.Close()
}

func (l *Ledger) arg(i int) string {
	if l.kind == kindPostgres {
		return "$" + strconv.Itoa(i+1)
	}
	return "?"
}

func (l *Ledger) args(n int) []string {
	args := make([]string, n)
	for i := range n {
		args[i] = l.arg(i)
	}
	return args
}
