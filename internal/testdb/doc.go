// Package testdb provides database fixtures for tests.
//
// PostgreSQL helpers connect to the database named by DATABASE_URL (or
// SCRY_TEST_DB_URL), apply the embedded migrations and skip the calling
// test when no URL is configured. SQLite helpers need no external services
// and give each test its own migrated database file.
//
// # Basic Usage
//
//	func TestSomething(t *testing.T) {
//		db := testdb.GetTestDBWithT(t)
//		testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
//			// changes made through tx are rolled back afterwards
//		})
//	}
package testdb
