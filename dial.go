package main

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-i2p/go-wire/lib/config"
	"github.com/go-i2p/go-wire/lib/transport"
	"github.com/go-i2p/go-wire/lib/util"
	"github.com/go-i2p/go-wire/lib/wire"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

func dialCmd() *cobra.Command {
	var (
		linger time.Duration
		shared map[string]string
	)

	cmd := &cobra.Command{
		Use:   "dial [address]",
		Short: "Connect to a peer and send stdin lines",
		Long: `Connect to a listener and send each line of standard input as a
message. Replies, acks and requests from the peer are printed.

Lines of the form "/request N" and "/ack N" send a Request or an Ack
instead of data. At end of input the connection stays up for --linger so
queued messages and replies can arrive.

Addresses are host:port or tcp://host:port for TCP and ws:// or wss://
URLs for WebSocket.

Examples:
  go-wire dial 127.0.0.1:7420 --peer 5f1c...
  echo hey | go-wire dial ws://example.net:8080/wire`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, shared)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.DialAddr = args[0]
			}
			return runDial(cmd.Context(), cmd, cfg, linger)
		},
	}

	shared = connectionFlags(cmd.Flags())
	cmd.Flags().DurationVar(&linger, "linger", time.Second, "time to wait after end of input")
	return cmd
}

func runDial(ctx context.Context, cmd *cobra.Command, cfg *config.WireConfig, linger time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ep, err := newEndpoint(cfg, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer ep.Close()

	dialCtx, cancelDial := context.WithTimeout(ctx, cfg.DialTimeout)
	rwc, err := transport.Dial(dialCtx, cfg.DialAddr)
	cancelDial()
	if err != nil {
		return err
	}

	c, err := wire.New(ep.options(ep.handler(ctx, false)))
	if err != nil {
		rwc.Close()
		return err
	}
	unregister := util.RegisterCloser(c)
	defer unregister()

	served := make(chan error, 1)
	go func() { served <- wire.Serve(ctx, c, rwc) }()

	if err := c.Open(); err != nil {
		c.Destroy(err)
		return <-served
	}

	log.WithFields(logger.Fields{
		"at":      "main.runDial",
		"conn_id": c.ID(),
		"addr":    cfg.DialAddr,
	}).Debug("connected")

	lines := readLines(ctx, cmd.InOrStdin())
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return finish(c, served, linger)
			}
			if err := sendLine(c, line); err != nil {
				ep.printf(c, "error: %v", err)
			}
		case err := <-served:
			return err
		}
	}
}

// finish waits up to linger for the connection to end on its own, then
// closes it.
func finish(c *wire.Conn, served <-chan error, linger time.Duration) error {
	select {
	case err := <-served:
		return err
	case <-time.After(linger):
	}
	c.Close()
	return <-served
}

// sendLine turns one input line into a Data, Request or Ack message.
func sendLine(c *wire.Conn, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 2 {
		switch fields[0] {
		case "/request":
			n, err := strconv.ParseUint(fields[1], 10, 32)
			if err != nil {
				return oops.Wrapf(err, "request number")
			}
			return c.Request(uint32(n))
		case "/ack":
			n, err := strconv.ParseUint(fields[1], 10, 32)
			if err != nil {
				return oops.Wrapf(err, "ack number")
			}
			return c.Ack(uint32(n))
		}
	}
	return c.Send([]byte(line))
}

// readLines streams r line by line; the channel closes at end of input.
// The goroutine stops sending once ctx is done, though a Read already
// blocked on r only returns when r does.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.WithError(err).Warn("Reading input failed")
		}
	}()
	return lines
}
