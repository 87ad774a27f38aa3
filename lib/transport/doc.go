// Package transport carries wire connections over real byte streams.
//
// Two stream kinds are supported:
//   - TCP: a plain net.Conn, addressed as "host:port" or "tcp://host:port"
//   - WebSocket: each Write is one binary message, addressed as "ws://" or
//     "wss://" URLs
//
// # Dialing
//
//	rwc, err := transport.Dial(ctx, "ws://127.0.0.1:7777/wire")
//	if err != nil {
//	    return err
//	}
//	return wire.Serve(ctx, conn, rwc)
//
// # Accepting
//
// A Server hands every accepted stream to an AcceptFunc. Its HTTP handler
// serves GET /wire (WebSocket upgrade) and, when a Prometheus gatherer is
// configured, GET /metrics; ServeWeb and ListenHTTP run it. ServeTCP runs an
// accept loop on a net.Listener.
// Both paths share one connection limit (DefaultMaxConnections unless
// WithMaxConnections is given).
package transport
