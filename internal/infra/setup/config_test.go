package setup_test

import (
	"testing"

	"studysphere-realtime/internal/infra/setup"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDSN(t *testing.T) {
	dsn := setup.BuildDSN("study", "p@ss", "db.local", "3307", "studysphere")

	assert.Contains(t, dsn, "study:p@ss@tcp(db.local:3307)/studysphere?")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "charset=utf8mb4")
}

func TestInitDB_RequiresName(t *testing.T) {
	_, err := setup.InitDB("u", "p", "127.0.0.1", "3306", "")
	assert.Error(t, err)
}

func TestInitRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := setup.InitRedis(mr.Addr(), "", 0)
	require.NoError(t, err)
	defer client.Close()

	// Close 之后不能再调用 mr.Addr()
	addr := mr.Addr()
	mr.Close()
	_, err = setup.InitRedis(addr, "", 0)
	assert.Error(t, err)
}

func TestMigrateDB_NilConnection(t *testing.T) {
	assert.Error(t, setup.MigrateDB(nil))
}
