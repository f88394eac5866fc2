// Package bootstrap prepares the rinha database for the transactions ledger.
//
// Run ensures the transactions collection and its two secondary indexes
// (client ascending, date descending) exist. It has ensure semantics: running
// it against a database that is already prepared changes nothing and returns
// nil. Verify reports the current state without writing.
//
// The caller owns the connection:
//
//	client, err := mongo.NewClient(ctx, mongo.Config{URI: uri, Database: bootstrap.DatabaseName})
//	if err != nil {
//		return err
//	}
//	defer client.Close(ctx)
//
//	return bootstrap.Run(ctx, client)
package bootstrap
