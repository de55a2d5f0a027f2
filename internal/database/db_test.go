package database

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	dsn := DSN("raffle", "pw", "db", "3306", "raffle")
	assert.True(t, strings.HasPrefix(dsn, "raffle:pw@tcp(db:3306)/raffle?"), dsn)
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "charset=utf8mb4")
}

func TestStatementsCoverEveryTable(t *testing.T) {
	stmts := Statements()
	require.NotEmpty(t, stmts)
	for _, table := range []string{"draws", "orders", "ticket_holds", "claims", "draw_winners", "commissions", "anomalies"} {
		found := false
		for _, s := range stmts {
			if strings.Contains(s, "CREATE TABLE IF NOT EXISTS "+table+" ") {
				found = true
			}
		}
		assert.True(t, found, table)
	}
	for _, s := range stmts {
		assert.NotContains(t, s, "--")
	}
}

func TestBootstrapStopsAtFirstError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	stmts := Statements()
	mock.ExpectExec(regexp.QuoteMeta(stmts[0])).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(stmts[1])).WillReturnError(errors.New("boom"))

	err = Bootstrap(context.Background(), db)
	assert.ErrorContains(t, err, "schema statement 2")
	assert.NoError(t, mock.ExpectationsWereMet())
}
