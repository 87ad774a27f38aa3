// Package truststore keeps the set of peer identity keys a node accepts
// from unpinned handshakes, in a SQLite database.
//
//	ts, err := truststore.Open(filepath.Join(dir, "peers.db"))
//	if err != nil {
//	    return err
//	}
//	defer ts.Close()
//	ok, err := ts.IsTrusted(ctx, peer)
package truststore
