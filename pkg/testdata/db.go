package testdata

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jordanlanch/leadguard/pkg/database"
	"github.com/jordanlanch/leadguard/pkg/logger"
)

var dbSeq atomic.Int64

// OpenDB returns a migrated in-memory SQLite database private to the test.
// The pool is limited to one connection so concurrent callers serialize on
// the database the way row locks would serialize them on Postgres.
func OpenDB(t *testing.T) *database.Client {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_fk=1", name, dbSeq.Add(1))

	client, err := database.Open(database.Config{
		Driver: "sqlite3",
		URL:    dsn,
		Pool:   database.PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1},
	}, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, client.Migrate(context.Background()))

	t.Cleanup(func() { client.Close() })
	return client
}
