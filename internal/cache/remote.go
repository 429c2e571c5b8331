package cache

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"

	libsql "github.com/tursodatabase/libsql-client-go/libsql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// connectRemote opens a libsql/Turso-backed cache database, for build
// farms that want to share one warm cache across machines instead of each
// runner keeping its own local file (§4.2, SPEC_FULL.md §B). Mirrors the
// teacher's URL-DSN branch in its sqlite connector.
func connectRemote(dsn string, debug bool) (*gorm.DB, error) {
	var (
		connector driver.Connector
		err       error
	)
	if token := os.Getenv("SPECCOMPILER_CACHE_AUTH_TOKEN"); token != "" {
		connector, err = libsql.NewConnector(dsn, libsql.WithAuthToken(token))
	} else {
		connector, err = libsql.NewConnector(dsn)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create libsql connector: %w", err)
	}

	conn := sql.OpenDB(connector)
	dialector := sqlite.New(sqlite.Config{
		DriverName: "libsql",
		Conn:       conn,
		DSN:        dsn,
	})

	db, err := gorm.Open(dialector, gormConfig(debug))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to remote cache db: %w", err)
	}
	return finishConnect(db)
}
