// Package database provides the SQLite store for MacroForge Core.
//
// It holds saved scripts, run history, queue runs and background action
// records. The connection uses WAL mode and a busy timeout, and the file is
// created with 0600 permissions.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are embedded by the migrations package and are additive:
// each YYYYMMDD_HHMMSS_name.up.sql has a matching .down.sql.
package database
