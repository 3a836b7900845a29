// Package database provides SQLite connectivity for the Lutron bridge service.
//
// The database holds what the bridges learn at runtime: every integration
// id seen on the wire and the history of connection state changes. Neither
// is needed to run a bridge, so a lost database file only loses history.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Schema migrations read from an fs.FS (the migrations package embeds them)
//   - STRICT tables for type safety
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are additive: new columns must be NULLABLE or have DEFAULT
// values, and each up file has a matching down file.
package database
