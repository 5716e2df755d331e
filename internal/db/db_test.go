package db_test

import (
	"database/sql"
	"errors"
	"os"
	"testing"

	"github.com/meow-io/go-discussions/internal/test"
	"github.com/meow-io/go-discussions/migration"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	os.Exit(test.DBCleanup(m.Run))
}

func TestMigrateOnlyOnce(t *testing.T) {
	require := require.New(t)
	d := test.NewTestDatabase(test.Config("db"))
	defer func() { _ = d.Shutdown() }()

	runs := 0
	migrations := []*migration.Migration{
		{
			Name: "create things",
			Func: func(tx *sql.Tx) error {
				runs++
				_, err := tx.Exec("CREATE TABLE things (id INTEGER PRIMARY KEY, name TEXT NOT NULL)")
				return err
			},
		},
	}
	require.Nil(d.Migrate("things", migrations))
	require.Nil(d.Migrate("things", migrations))
	require.Equal(1, runs)
}

func TestRollbackSkipsAfterCommit(t *testing.T) {
	require := require.New(t)
	d := test.NewTestDatabase(test.Config("db"))
	defer func() { _ = d.Shutdown() }()

	require.Nil(d.Migrate("rollback", []*migration.Migration{
		{
			Name: "create things",
			Func: func(tx *sql.Tx) error {
				_, err := tx.Exec("CREATE TABLE things (id INTEGER PRIMARY KEY)")
				return err
			},
		},
	}))

	called := make(chan bool, 1)
	boom := errors.New("boom")
	err := d.Run("failing", func() error {
		if _, err := d.Tx.Exec("INSERT INTO things (id) VALUES (1)"); err != nil {
			return err
		}
		d.AfterCommit(func() { called <- true })
		return boom
	})
	require.ErrorIs(err, boom)

	var count int
	require.Nil(d.Run("count", func() error {
		return d.Tx.Get(&count, "SELECT count(*) FROM things")
	}))
	require.Equal(0, count)
	require.Len(called, 0)

	require.Nil(d.Run("succeeding", func() error {
		d.AfterCommit(func() { called <- true })
		_, err := d.Tx.Exec("INSERT INTO things (id) VALUES (1)")
		return err
	}))
	require.True(<-called)
}

func TestRunReadOnly(t *testing.T) {
	require := require.New(t)
	d := test.NewTestDatabase(test.Config("db"))
	defer func() { _ = d.Shutdown() }()

	require.Nil(d.Migrate("readonly", []*migration.Migration{
		{
			Name: "things",
			Func: func(tx *sql.Tx) error {
				_, err := tx.Exec("CREATE TABLE things (id INTEGER PRIMARY KEY)")
				return err
			},
		},
	}))
	var count int
	require.Nil(d.RunReadOnly("count things", func() error {
		return d.Tx.Get(&count, "SELECT count(*) FROM things")
	}))
	require.Equal(0, count)

	boom := errors.New("boom")
	err := d.RunReadOnly("failing read", func() error { return boom })
	require.ErrorIs(err, boom)
}
