package transport

import (
	"context"
	"io"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/go-i2p/logger"
	"github.com/gorilla/websocket"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

// DefaultDialTimeout bounds connection setup when ctx has no deadline.
const DefaultDialTimeout = 10 * time.Second

// Dial opens a byte stream to addr. Addresses starting with ws:// or wss://
// are WebSocket URLs; tcp://host:port and bare host:port are TCP.
func Dial(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultDialTimeout)
		defer cancel()
	}

	log.WithFields(logger.Fields{
		"at":   "transport.Dial",
		"addr": addr,
	}).Debug("dialing")

	switch {
	case strings.HasPrefix(addr, "ws://"), strings.HasPrefix(addr, "wss://"):
		return dialWebSocket(ctx, addr)
	case strings.HasPrefix(addr, "tcp://"):
		return dialTCP(ctx, strings.TrimPrefix(addr, "tcp://"))
	case strings.Contains(addr, "://"):
		return nil, oops.Wrapf(ErrUnsupportedScheme, "%s", addr)
	default:
		return dialTCP(ctx, addr)
	}
}

func dialTCP(ctx context.Context, hostport string) (io.ReadWriteCloser, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return nil, oops.Wrapf(err, "dialing tcp %s", hostport)
	}
	return conn, nil
}

func dialWebSocket(ctx context.Context, rawURL string) (io.ReadWriteCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, oops.Wrapf(err, "parsing websocket url")
	}
	if u.Path == "" {
		u.Path = WirePath
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, oops.Wrapf(err, "dialing websocket %s", u.Redacted())
	}
	return NewWSConn(ws), nil
}
