// Package database owns the FPF Core SQLite file: opening it with WAL and
// foreign keys, applying the embedded migrations, and the timestamp format
// shared by every repository.
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Repositories receive db.DB and write timestamps with FormatTime so that
// text comparison in SQL orders them chronologically.
package database
