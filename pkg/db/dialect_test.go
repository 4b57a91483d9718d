package db

import (
	"testing"

	"github.com/smallbiznis/penwork/internal/config"
	"github.com/stretchr/testify/require"
)

func TestDSNPerDriver(t *testing.T) {
	cfg := config.Config{DBHost: "db", DBPort: "5432", DBUser: "pw", DBPassword: "secret", DBName: "penwork", DBSSLMode: "disable"}

	cfg.DBType = "PostgreSQL"
	driver, dsn, err := DSN(cfg)
	require.NoError(t, err)
	require.Equal(t, DriverPostgres, driver)
	require.Contains(t, dsn, "dbname=penwork")
	require.Contains(t, dsn, "TimeZone=UTC")

	cfg.DBType, cfg.DBPort = "mysql", "3306"
	driver, dsn, err = DSN(cfg)
	require.NoError(t, err)
	require.Equal(t, DriverMySQL, driver)
	require.Equal(t, "pw:secret@tcp(db:3306)/penwork?charset=utf8mb4&parseTime=True&loc=UTC", dsn)

	cfg.DBType, cfg.DBName = "sqlite3", ""
	driver, dsn, err = DSN(cfg)
	require.NoError(t, err)
	require.Equal(t, DriverSQLite, driver)
	require.Equal(t, "penwork.db", dsn)

	_, _, err = DSN(config.Config{DBType: "oracle"})
	require.Error(t, err)
	_, err = Dialect(config.Config{DBType: "oracle"})
	require.Error(t, err)
}
