package wire

import (
	"bytes"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/go-i2p/go-wire/lib/frame"
	"github.com/go-i2p/go-wire/lib/keys"
	"github.com/go-i2p/go-wire/lib/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const waitTimeout = 2 * time.Second

type event struct {
	kind string
	data []byte
	n    uint32
	err  error
	hs   *schema.Handshake
}

// recorder turns handler callbacks into a stream of events.
type recorder struct {
	events chan event
	// onHandshake overrides the default of accepting every stranger.
	onHandshake func(c *Conn, hs *schema.Handshake)
}

func newRecorder() *recorder {
	return &recorder{events: make(chan event, 128)}
}

func (r *recorder) handler() Handler {
	return HandlerFuncs{
		Open:    func(*Conn) { r.events <- event{kind: "open"} },
		Message: func(_ *Conn, p []byte) { r.events <- event{kind: "message", data: p} },
		Request: func(_ *Conn, seq uint32) { r.events <- event{kind: "request", n: seq} },
		Ack:     func(_ *Conn, ack uint32) { r.events <- event{kind: "ack", n: ack} },
		Handshake: func(c *Conn, hs *schema.Handshake) {
			r.events <- event{kind: "handshake", hs: hs}
			if r.onHandshake != nil {
				r.onHandshake(c, hs)
				return
			}
			_ = c.AcceptHandshake(hs)
		},
		Error: func(_ *Conn, err error) { r.events <- event{kind: "error", err: err} },
		Close: func(*Conn) { r.events <- event{kind: "close"} },
	}
}

// next returns the next event of the given kind, skipping others.
func (r *recorder) next(t *testing.T, kind string) event {
	t.Helper()
	timeout := time.After(waitTimeout)
	for {
		select {
		case ev := <-r.events:
			if ev.kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", kind)
			return event{}
		}
	}
}

// none asserts that no event of the given kind arrives within d.
func (r *recorder) none(t *testing.T, kind string, d time.Duration) {
	t.Helper()
	timeout := time.After(d)
	for {
		select {
		case ev := <-r.events:
			if ev.kind == kind {
				t.Fatalf("unexpected %s event: %+v", kind, ev)
			}
		case <-timeout:
			return
		}
	}
}

func newKeyPair(t *testing.T) keys.KeyPair {
	t.Helper()
	kp, err := keys.Generate()
	require.NoError(t, err)
	return kp
}

func newConn(t *testing.T, opts Options, r *recorder) *Conn {
	t.Helper()
	if r != nil {
		opts.Handler = r.handler()
	}
	c, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Destroy(nil) })
	return c
}

// pinnedPair returns two connections that expect each other's identity.
func pinnedPair(t *testing.T) (a, b *Conn, ra, rb *recorder) {
	t.Helper()
	alice, bob := newKeyPair(t), newKeyPair(t)
	ra, rb = newRecorder(), newRecorder()
	a = newConn(t, Options{Identity: alice, TheirIdentity: bob.Public}, ra)
	b = newConn(t, Options{Identity: bob, TheirIdentity: alice.Public}, rb)
	return a, b, ra, rb
}

func writeEnvelope(t *testing.T, c *Conn, env schema.Envelope) {
	t.Helper()
	body, err := schema.EncodeEnvelope(env)
	require.NoError(t, err)
	_, err = c.Write(frame.Encode(body))
	require.NoError(t, err)
}

func TestNew_RequiresIdentity(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrIdentityRequired)

	c, err := New(Options{Plaintext: true})
	require.NoError(t, err)
	defer c.Close()
	assert.True(t, c.Authenticated())
	assert.NotEmpty(t, c.ID())
}

func TestSend_HeyHo(t *testing.T) {
	a, b, _, rb := pinnedPair(t)
	Pipe(a, b)

	require.NoError(t, a.Send([]byte("hey")))
	require.NoError(t, a.Send([]byte("ho")))

	assert.Equal(t, []byte("hey"), rb.next(t, "message").data)
	assert.Equal(t, []byte("ho"), rb.next(t, "message").data)

	assert.True(t, a.Authenticated())
	assert.True(t, b.Authenticated())
	assert.True(t, a.Initiator())
	assert.False(t, b.Initiator())
	assert.Equal(t, a.Role().Opposite(), b.Role())
}

func TestRequestAndAck(t *testing.T) {
	alice, bob := newKeyPair(t), newKeyPair(t)
	msgs := map[uint32][]byte{1: []byte("hey"), 2: []byte("ho")}
	acks := make(chan uint32, 4)

	a := newConn(t, Options{
		Identity:      alice,
		TheirIdentity: bob.Public,
		Handler: HandlerFuncs{
			Request: func(c *Conn, seq uint32) { _ = c.Send(msgs[seq]) },
			Ack:     func(_ *Conn, ack uint32) { acks <- ack },
		},
	}, nil)
	rb := newRecorder()
	b := newConn(t, Options{Identity: bob, TheirIdentity: alice.Public}, rb)
	Pipe(a, b)

	nextAck := func() uint32 {
		select {
		case ack := <-acks:
			return ack
		case <-time.After(waitTimeout):
			t.Fatal("timed out waiting for ack")
			return 0
		}
	}

	require.NoError(t, b.Request(2))
	assert.Equal(t, msgs[2], rb.next(t, "message").data)
	require.NoError(t, b.Ack(2))
	assert.Equal(t, uint32(2), nextAck())

	require.NoError(t, b.Request(1))
	assert.Equal(t, msgs[1], rb.next(t, "message").data)
	require.NoError(t, b.Ack(1))
	assert.Equal(t, uint32(1), nextAck())
}

func TestData_CarriesAckCounter(t *testing.T) {
	a, b, _, rb := pinnedPair(t)
	Pipe(a, b)

	require.NoError(t, a.Ack(5))
	assert.Equal(t, uint32(5), rb.next(t, "ack").n)

	require.NoError(t, a.Send([]byte("x")))
	// Data with a non-zero ack reports it before the message
	assert.Equal(t, uint32(5), rb.next(t, "ack").n)
	assert.Equal(t, []byte("x"), rb.next(t, "message").data)
}

func TestInitialAckOption(t *testing.T) {
	alice, bob := newKeyPair(t), newKeyPair(t)
	rb := newRecorder()
	a := newConn(t, Options{Identity: alice, TheirIdentity: bob.Public, Ack: 9}, nil)
	b := newConn(t, Options{Identity: bob, TheirIdentity: alice.Public}, rb)
	Pipe(a, b)

	require.NoError(t, a.Send([]byte("x")))
	assert.Equal(t, uint32(9), rb.next(t, "ack").n)
}

func TestDeferredOperationsKeepOrder(t *testing.T) {
	a, b, _, rb := pinnedPair(t)

	require.NoError(t, a.Request(1))
	require.NoError(t, a.Send([]byte("first")))
	require.NoError(t, a.Ack(3))
	require.NoError(t, a.Send([]byte("second")))
	assert.Equal(t, StateUnauthenticated, a.State())

	Pipe(a, b)

	var got []string
	for len(got) < 5 {
		select {
		case ev := <-rb.events:
			switch ev.kind {
			case "request", "ack":
				got = append(got, fmt.Sprintf("%s:%d", ev.kind, ev.n))
			case "message":
				got = append(got, "message:"+string(ev.data))
			}
		case <-time.After(waitTimeout):
			t.Fatalf("timed out, got %v", got)
		}
	}
	assert.Equal(t, []string{"request:1", "message:first", "ack:3", "ack:3", "message:second"}, got)
}

func TestAck_ZeroIsInvalid(t *testing.T) {
	a, _, _, _ := pinnedPair(t)
	assert.ErrorIs(t, a.Ack(0), ErrInvalidAck)
}

func TestPlaintextRoundTrip(t *testing.T) {
	ra, rb := newRecorder(), newRecorder()
	a := newConn(t, Options{Plaintext: true}, ra)
	b := newConn(t, Options{Plaintext: true}, rb)
	Pipe(a, b)

	require.NoError(t, a.Send([]byte("plain")))
	assert.Equal(t, []byte("plain"), rb.next(t, "message").data)

	require.NoError(t, b.Request(4))
	assert.Equal(t, uint32(4), ra.next(t, "request").n)
	ra.none(t, "open", 50*time.Millisecond)
}

func TestPlaintext_FramesArePayloads(t *testing.T) {
	c := newConn(t, Options{Plaintext: true}, nil)
	require.NoError(t, c.Send([]byte("raw")))

	fr := frame.NewReader(c, frame.Limits{})
	body, err := fr.ReadFrame()
	require.NoError(t, err)

	p, err := schema.DecodePayload(body)
	require.NoError(t, err)
	assert.Equal(t, &schema.Data{Payload: []byte("raw")}, p)
}

func TestPlaintext_MalformedPayloadIsNotFatal(t *testing.T) {
	r := newRecorder()
	c := newConn(t, Options{Plaintext: true}, r)

	_, err := c.Write(frame.Encode([]byte{byte(schema.KindData), 0xff}))
	require.NoError(t, err)
	reported := r.next(t, "error").err
	assert.ErrorIs(t, reported, schema.ErrMalformed)
	assert.NotErrorIs(t, reported, schema.ErrUnknownKind)

	_, err = c.Write(frame.Encode([]byte{0x7f}))
	require.NoError(t, err)

	body, err := schema.EncodePayload(&schema.Data{Payload: []byte("ok")})
	require.NoError(t, err)
	_, err = c.Write(frame.Encode(body))
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), r.next(t, "message").data)
	assert.NotEqual(t, StateDestroyed, c.State())
}

// sealPayload encrypts body on c's session and queues it as c's next
// outbound frame.
func sealPayload(t *testing.T, c *Conn, body []byte) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	enc, err := c.session.Encrypt(c.ctx, body)
	require.NoError(t, err)
	env, err := schema.EncodeEnvelope(enc)
	require.NoError(t, err)
	c.emitLocked(env)
}

func TestEncrypted_MalformedPayloadReachesOnError(t *testing.T) {
	a, b, _, rb := pinnedPair(t)
	Pipe(a, b)
	require.NoError(t, a.Send([]byte("one")))
	assert.Equal(t, []byte("one"), rb.next(t, "message").data)

	sealPayload(t, a, []byte{byte(schema.KindData), 0xff})

	err := rb.next(t, "error").err
	assert.ErrorIs(t, err, schema.ErrMalformed)
	assert.NotErrorIs(t, err, schema.ErrUnknownKind)
	assert.NotErrorIs(t, err, ErrDestroyed)

	// an unknown payload kind is dropped without a report
	sealPayload(t, a, []byte{0x7f})
	require.NoError(t, a.Send([]byte("two")))
	assert.Equal(t, []byte("two"), rb.next(t, "message").data)
	rb.none(t, "error", 50*time.Millisecond)
	assert.True(t, b.Authenticated())
}

func TestEncryptedBeforeHandshakeIsDropped(t *testing.T) {
	m := NewMetrics(WithRegistry(prometheus.NewRegistry()))
	r := newRecorder()
	c := newConn(t, Options{Identity: newKeyPair(t), Metrics: m}, r)
	assert.Equal(t, StateUnauthenticated, c.State())

	writeEnvelope(t, c, &schema.Encrypted{
		EphemeralKey: bytes.Repeat([]byte{1}, 32),
		Ciphertext:   []byte("early"),
		Nonce:        bytes.Repeat([]byte{2}, 12),
	})

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.framesDropped.WithLabelValues(dropNotAuthenticated)) == 1
	}, waitTimeout, 10*time.Millisecond)
	r.none(t, "close", 50*time.Millisecond)
	assert.Equal(t, StateUnauthenticated, c.State())
	assert.NoError(t, c.Err())
}

func TestImpersonationIsRejected(t *testing.T) {
	alice, bob, mallory := newKeyPair(t), newKeyPair(t), newKeyPair(t)
	ra := newRecorder()
	a := newConn(t, Options{Identity: alice, TheirIdentity: bob.Public}, ra)
	m := newConn(t, Options{Identity: mallory, TheirIdentity: alice.Public}, nil)
	Pipe(a, m)

	require.NoError(t, m.Open())

	err := ra.next(t, "error").err
	assert.ErrorIs(t, err, ErrIdentityMismatch)
	assert.NotErrorIs(t, err, ErrHandshakeReplay)
	assert.NotErrorIs(t, err, ErrNotAuthenticated)
	assert.False(t, a.Authenticated())
	assert.NotEqual(t, StateDestroyed, a.State())
	assert.True(t, a.TheirIdentity().Equal(bob.Public))
}

func TestImpostorDataAfterMismatchKeepsConnOpen(t *testing.T) {
	metrics := NewMetrics(WithRegistry(prometheus.NewRegistry()))
	alice, bob, mallory := newKeyPair(t), newKeyPair(t), newKeyPair(t)
	ra := newRecorder()
	a := newConn(t, Options{Identity: alice, TheirIdentity: bob.Public, Metrics: metrics}, ra)
	m := newConn(t, Options{Identity: mallory, TheirIdentity: alice.Public}, nil)
	Pipe(a, m)

	// mallory authenticates alice and flushes encrypted Data at her
	require.NoError(t, a.Send([]byte("for bob")))
	require.NoError(t, m.Send([]byte("from mallory")))

	assert.ErrorIs(t, ra.next(t, "error").err, ErrIdentityMismatch)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.framesDropped.WithLabelValues(dropNotAuthenticated)) >= 1
	}, waitTimeout, 10*time.Millisecond)

	ra.none(t, "message", 50*time.Millisecond)
	assert.Equal(t, StateUnauthenticated, a.State())
	assert.NoError(t, a.Err())
}

func TestStrangerAccepted(t *testing.T) {
	alice, bob := newKeyPair(t), newKeyPair(t)
	rb := newRecorder()
	a := newConn(t, Options{Identity: alice, TheirIdentity: bob.Public}, nil)
	b := newConn(t, Options{Identity: bob}, rb)
	Pipe(a, b)

	require.NoError(t, a.Send([]byte("hello stranger")))

	hs := rb.next(t, "handshake").hs
	assert.True(t, alice.Public.EqualBytes(hs.StaticKey))
	assert.Equal(t, []byte("hello stranger"), rb.next(t, "message").data)
	assert.True(t, b.TheirIdentity().Equal(alice.Public))
}

func TestStrangerDecisionHoldsInbound(t *testing.T) {
	alice, bob := newKeyPair(t), newKeyPair(t)
	rb := newRecorder()
	rb.onHandshake = func(*Conn, *schema.Handshake) {}
	a := newConn(t, Options{Identity: alice, TheirIdentity: bob.Public}, nil)
	b := newConn(t, Options{Identity: bob}, rb)
	Pipe(a, b)

	require.NoError(t, a.Send([]byte("one")))
	hs := rb.next(t, "handshake").hs
	rb.none(t, "message", 50*time.Millisecond)
	assert.False(t, b.Authenticated())

	require.NoError(t, b.AcceptHandshake(hs))
	require.NoError(t, a.Send([]byte("two")))
	assert.Equal(t, []byte("one"), rb.next(t, "message").data)
	assert.Equal(t, []byte("two"), rb.next(t, "message").data)
}

func TestStrangerRejectedByDefault(t *testing.T) {
	alice, bob := newKeyPair(t), newKeyPair(t)
	a := newConn(t, Options{Identity: alice, TheirIdentity: bob.Public}, nil)
	b := newConn(t, Options{Identity: bob, Handler: HandlerFuncs{}}, nil)
	Pipe(a, b)

	require.NoError(t, a.Send([]byte("ignored")))
	assert.Never(t, b.Authenticated, 100*time.Millisecond, 10*time.Millisecond)
	assert.False(t, a.Authenticated())
}

func TestHandshakeIdempotence(t *testing.T) {
	alice, bob := newKeyPair(t), newKeyPair(t)
	aliceEphemeral := newKeyPair(t)
	rb := newRecorder()
	a := newConn(t, Options{Identity: alice, TheirIdentity: bob.Public, Handshake: aliceEphemeral}, nil)
	b := newConn(t, Options{Identity: bob, TheirIdentity: alice.Public}, rb)
	Pipe(a, b)

	require.NoError(t, a.Send([]byte("before")))
	assert.Equal(t, []byte("before"), rb.next(t, "message").data)

	// repeats of the authenticated handshake change nothing
	for _, marked := range []bool{true, false} {
		writeEnvelope(t, b, &schema.Handshake{
			EphemeralKey:  aliceEphemeral.Public.Bytes(),
			StaticKey:     alice.Public.Bytes(),
			Authenticated: marked,
		})
	}
	require.NoError(t, a.Send([]byte("after")))
	assert.Equal(t, []byte("after"), rb.next(t, "message").data)
	rb.none(t, "error", 50*time.Millisecond)
	assert.True(t, b.Authenticated())

	// a new ephemeral key on an authenticated connection is reported
	writeEnvelope(t, b, &schema.Handshake{
		EphemeralKey: newKeyPair(t).Public.Bytes(),
		StaticKey:    alice.Public.Bytes(),
	})
	assert.ErrorIs(t, rb.next(t, "error").err, ErrUnexpectedHandshake)
	assert.True(t, b.Authenticated())
}

func TestSimultaneousOpen(t *testing.T) {
	a, b, ra, rb := pinnedPair(t)

	require.NoError(t, a.Send([]byte("from a")))
	require.NoError(t, b.Send([]byte("from b")))
	Pipe(a, b)

	assert.Equal(t, []byte("from b"), ra.next(t, "message").data)
	assert.Equal(t, []byte("from a"), rb.next(t, "message").data)
	ra.none(t, "error", 50*time.Millisecond)
}

func TestHandshakeReplayAcrossConnections(t *testing.T) {
	alice, bob := newKeyPair(t), newKeyPair(t)
	ephemeral := newKeyPair(t)
	cache := NewReplayCache(time.Minute)
	defer cache.Close()

	a1 := newConn(t, Options{Identity: alice, TheirIdentity: bob.Public, Handshake: ephemeral}, nil)
	rb1 := newRecorder()
	b1 := newConn(t, Options{Identity: bob, TheirIdentity: alice.Public, ReplayCache: cache}, rb1)
	Pipe(a1, b1)
	require.NoError(t, a1.Send([]byte("first")))
	assert.Equal(t, []byte("first"), rb1.next(t, "message").data)

	rb2 := newRecorder()
	b2 := newConn(t, Options{Identity: bob, TheirIdentity: alice.Public, ReplayCache: cache}, rb2)
	writeEnvelope(t, b2, &schema.Handshake{
		EphemeralKey: ephemeral.Public.Bytes(),
		StaticKey:    alice.Public.Bytes(),
	})
	assert.ErrorIs(t, rb2.next(t, "error").err, ErrHandshakeReplay)
	assert.False(t, b2.Authenticated())
}

func TestHandshakeRateLimit(t *testing.T) {
	r := newRecorder()
	r.onHandshake = func(c *Conn, hs *schema.Handshake) { c.RejectHandshake(hs) }
	c := newConn(t, Options{
		Identity:       newKeyPair(t),
		HandshakeLimit: rate.NewLimiter(0, 1),
	}, r)

	for i := 0; i < 2; i++ {
		writeEnvelope(t, c, &schema.Handshake{
			EphemeralKey: newKeyPair(t).Public.Bytes(),
			StaticKey:    newKeyPair(t).Public.Bytes(),
		})
	}

	r.next(t, "handshake")
	assert.ErrorIs(t, r.next(t, "error").err, ErrHandshakeRateLimited)
}

func TestBadInboundFramesAreDropped(t *testing.T) {
	a, b, _, rb := pinnedPair(t)
	Pipe(a, b)
	require.NoError(t, a.Send([]byte("one")))
	assert.Equal(t, []byte("one"), rb.next(t, "message").data)

	// unknown discriminant
	_, err := b.Write(frame.Encode([]byte{0x09, 0x00}))
	require.NoError(t, err)
	// truncated handshake
	_, err = b.Write(frame.Encode([]byte{byte(schema.KindHandshake), 0x0a, 0x05}))
	require.NoError(t, err)
	// forged ciphertext
	writeEnvelope(t, b, &schema.Encrypted{
		EphemeralKey: newKeyPair(t).Public.Bytes(),
		Ciphertext:   bytes.Repeat([]byte{0xaa}, 40),
		Nonce:        bytes.Repeat([]byte{0x01}, 12),
	})

	require.NoError(t, a.Send([]byte("two")))
	assert.Equal(t, []byte("two"), rb.next(t, "message").data)
	rb.none(t, "error", 50*time.Millisecond)
	assert.True(t, b.Authenticated())
}

func TestOversizedFrameDestroys(t *testing.T) {
	r := newRecorder()
	c := newConn(t, Options{Plaintext: true, Limits: frame.Limits{MaxFrameSize: 8}}, r)

	_, err := c.Write(frame.Encode(make([]byte, 16)))
	assert.ErrorIs(t, err, frame.ErrFrameTooLarge)
	assert.ErrorIs(t, r.next(t, "error").err, frame.ErrFrameTooLarge)
	assert.Equal(t, StateDestroyed, c.State())
}

func TestDestroy(t *testing.T) {
	a, b, ra, _ := pinnedPair(t)
	Pipe(a, b)

	cause := io.ErrUnexpectedEOF
	a.Destroy(cause)
	a.Destroy(nil)
	require.NoError(t, a.Close())

	assert.ErrorIs(t, ra.next(t, "error").err, cause)
	ra.next(t, "close")
	ra.none(t, "close", 50*time.Millisecond)

	assert.Equal(t, StateDestroyed, a.State())
	assert.ErrorIs(t, a.Err(), cause)
	assert.ErrorIs(t, a.Send([]byte("x")), ErrDestroyed)
	assert.ErrorIs(t, a.Open(), ErrDestroyed)
	assert.NoError(t, a.Request(1))
	assert.NoError(t, a.Ack(1))

	_, err := a.Write([]byte{0x01})
	assert.ErrorIs(t, err, ErrDestroyed)
	_, err = a.Read(make([]byte, 8))
	assert.Equal(t, io.EOF, err)

	select {
	case <-a.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestDestroyWakesBlockedRead(t *testing.T) {
	c := newConn(t, Options{Plaintext: true}, nil)
	errc := make(chan error, 1)
	go func() {
		_, err := c.Read(make([]byte, 8))
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	c.Destroy(nil)
	select {
	case err := <-errc:
		assert.Equal(t, io.EOF, err)
	case <-time.After(waitTimeout):
		t.Fatal("Read did not return after Destroy")
	}
}

func TestMetrics(t *testing.T) {
	m := NewMetrics(WithRegistry(prometheus.NewRegistry()), WithNamespace("test"))
	alice, bob := newKeyPair(t), newKeyPair(t)
	rb := newRecorder()
	a := newConn(t, Options{Identity: alice, TheirIdentity: bob.Public, Metrics: m}, nil)
	b := newConn(t, Options{Identity: bob, TheirIdentity: alice.Public, Metrics: m}, rb)
	Pipe(a, b)

	require.NoError(t, a.Send([]byte("counted")))
	rb.next(t, "message")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.activeConns))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.handshakes.WithLabelValues(handshakeAccepted)) == 2
	}, waitTimeout, 10*time.Millisecond)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.authenticated))
	// two handshakes and one Data
	assert.Equal(t, float64(3), testutil.ToFloat64(m.framesOut))

	a.Destroy(nil)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.activeConns))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.destroyedConns.WithLabelValues("local")))
}
