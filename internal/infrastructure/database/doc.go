// Package database provides SQLite connectivity for therapylink.
//
// The database holds operational history only: payloads the delivery
// queue gave up on and a journal of delivery events. Settings and the
// outbound mailbox stay in JSON files so the device UI can read them.
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration Strategy:
//
// Migrations are additive-only. Each file pair is named
// YYYYMMDD_HHMMSS_description.up.sql / .down.sql and applied in
// version order, each in its own transaction.
package database
