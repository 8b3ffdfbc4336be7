// Package dbs provides the database backends the history tests run against.
// SQLite always runs; PostgreSQL and MySQL run in containers and are skipped
// when no container provider is available or with -short.
package dbs

import (
	"path/filepath"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/repotend/repotend/internal/config"
)

const (
	name     = "repotend"
	user     = "repotend"
	password = "repotend"
)

type Config struct {
	Setup    func(*testing.T) testcontainers.Container
	Cleanup  func(*testing.T, testcontainers.Container) func()
	Database func(*testing.T, testcontainers.Container) *config.Root
}

func Configs(t *testing.T) map[string]Config {
	t.Helper()

	return map[string]Config{
		"sqlite": {
			Database: func(t *testing.T, _ testcontainers.Container) *config.Root {
				return root("sqlite", filepath.Join(t.TempDir(), "history.db"))
			},
		},
		"postgres": {
			Setup: func(t *testing.T) testcontainers.Container {
				skipWithoutProvider(t)
				ctr, err := postgres.Run(t.Context(), "postgres:17-alpine",
					postgres.WithDatabase(name),
					postgres.WithUsername(user),
					postgres.WithPassword(password),
					postgres.BasicWaitStrategies(),
				)
				if err != nil {
					t.Fatal(err)
				}
				return ctr
			},
			Cleanup: terminate,
			Database: func(t *testing.T, ctr testcontainers.Container) *config.Root {
				dsn, err := ctr.(*postgres.PostgresContainer).ConnectionString(t.Context(), "sslmode=disable")
				if err != nil {
					t.Fatal(err)
				}
				return root("postgres", dsn)
			},
		},
		"mysql": {
			Setup: func(t *testing.T) testcontainers.Container {
				skipWithoutProvider(t)
				ctr, err := mysql.Run(t.Context(), "mysql:8.4",
					mysql.WithDatabase(name),
					mysql.WithUsername(user),
					mysql.WithPassword(password),
				)
				if err != nil {
					t.Fatal(err)
				}
				return ctr
			},
			Cleanup: terminate,
			Database: func(t *testing.T, ctr testcontainers.Container) *config.Root {
				dsn, err := ctr.(*mysql.MySQLContainer).ConnectionString(t.Context())
				if err != nil {
					t.Fatal(err)
				}
				return root("mysql", dsn)
			},
		},
	}
}

func root(driver, dsn string) *config.Root {
	return &config.Root{History: &config.Database{SQL: &config.SQLDatabase{Driver: driver, DSN: dsn}}}
}

func skipWithoutProvider(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container database in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
}

func terminate(t *testing.T, ctr testcontainers.Container) func() {
	return func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			t.Error(err)
		}
	}
}
