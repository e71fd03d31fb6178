// Package irc implements the client orchestrator: the one component that
// owns both the socket transport and the connection state machine. All of
// its operations run synchronously to completion or to their deadline; the
// client is not safe for concurrent use.
package irc

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/caronc/ircnotify/internal/proto"
	"github.com/caronc/ircnotify/internal/state"
	"github.com/caronc/ircnotify/internal/transport"
)

var log = logrus.WithField("component", "irc")

// AuthMode selects how the configured password is used.
type AuthMode string

const (
	// AuthNone performs no authentication.
	AuthNone AuthMode = "none"
	// AuthServer sends PASS during registration.
	AuthServer AuthMode = "server"
	// AuthNickServ identifies to NickServ after registration completes.
	AuthNickServ AuthMode = "nickserv"
	// AuthZNC is bouncer mode: PASS during registration, no identify.
	AuthZNC AuthMode = "znc"
)

// AuthModes lists every recognized mode.
var AuthModes = []AuthMode{AuthNone, AuthServer, AuthNickServ, AuthZNC}

// ParseAuthMode resolves a mode name, accepting unambiguous prefixes the
// way the configuration surface does ("nick" -> nickserv).
func ParseAuthMode(name string) (AuthMode, error) {
	requested := AuthMode(name)
	var matches []AuthMode
	for _, m := range AuthModes {
		if m == requested {
			return m, nil
		}
		if len(name) > 0 && len(name) < len(m) && m[:len(name)] == AuthMode(name) {
			matches = append(matches, m)
		}
	}
	if len(matches) == 1 {
		return matches[0], nil
	}
	return "", fmt.Errorf("invalid auth mode %q", name)
}

const (
	// DefaultInsecurePort and DefaultSecurePort are the conventional IRC
	// ports.
	DefaultInsecurePort = 6667
	DefaultSecurePort   = 6697

	// NickMaxLength is the conservative nickname budget; EFnet still caps
	// nicknames at 9 characters.
	NickMaxLength = 9

	// pumpInterval bounds one handshake pump slice so overall deadlines
	// are reassessed frequently while waiting on the server.
	pumpInterval = 750 * time.Millisecond

	// nickCollisionMax caps regenerated nicknames before giving up.
	nickCollisionMax = 3
)

var (
	// ErrNickExhausted reports that the nickname retry budget ran out.
	ErrNickExhausted = errors.New("nickname is already in use")

	// ErrNoNickGenerator reports a collision with no retry policy
	// configured.
	ErrNoNickGenerator = errors.New("nickname collision and no generator")

	// ErrRegisterTimeout reports that registration did not complete
	// within the caller's budget. It is distinct from a server rejection
	// so the caller can decide to retry with a longer budget.
	ErrRegisterTimeout = errors.New("irc registration timeout")
)

// ProtocolError is a server-side rejection carrying the server's own
// error text. It is terminal for the current connection attempt.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return e.Reason }

// NickGenerator maps (prefix, max length, collision count) to a candidate
// nickname, so the naming policy stays swappable.
type NickGenerator func(prefix string, maxLength, collision int) string

// Config describes one logical IRC connection.
type Config struct {
	Host string
	Port int // 0 selects the default for the security mode

	Secure     bool
	SkipVerify bool

	Nickname string
	FullName string
	Password string
	AuthMode AuthMode

	// Timeout is the transport read/connect budget; zero blocks
	// indefinitely at the transport layer (operations still honor their
	// own deadlines).
	Timeout time.Duration

	// Retries is the transport reconnect budget.
	Retries int

	NickGenerator NickGenerator
	NickLength    int
}

// Client drives one IRC connection: it pumps lines from the transport
// through the state machine and executes the resulting actions.
type Client struct {
	transport *transport.Transport
	sm        *state.Machine
	authMode  AuthMode

	nickGen    NickGenerator
	nickLen    int
	collisions int

	outq  []string
	inbuf bytes.Buffer
}

// NewClient builds a Client and its transport; no connection is made yet.
func NewClient(cfg Config) (*Client, error) {
	port := cfg.Port
	if port == 0 {
		port = DefaultInsecurePort
		if cfg.Secure {
			port = DefaultSecurePort
		}
	}

	tr, err := transport.New(transport.Options{
		Host:           cfg.Host,
		Port:           port,
		Secure:         cfg.Secure,
		SkipVerify:     cfg.SkipVerify,
		ConnectTimeout: cfg.Timeout,
		ReadTimeout:    cfg.Timeout,
		Retries:        cfg.Retries,
	})
	if err != nil {
		return nil, err
	}

	mode := cfg.AuthMode
	if mode == "" {
		mode = AuthServer
	}
	nickLen := cfg.NickLength
	if nickLen <= 0 {
		nickLen = NickMaxLength
	}

	return &Client{
		transport: tr,
		sm:        state.NewMachine(state.NewContext(cfg.Nickname, cfg.FullName, cfg.Password)),
		authMode:  mode,
		nickGen:   cfg.NickGenerator,
		nickLen:   nickLen,
	}, nil
}

// Nickname returns the server-accepted nickname.
func (c *Client) Nickname() string { return c.sm.Ctx.AcceptedNick }

// Connect establishes the underlying transport connection.
func (c *Client) Connect() error { return c.transport.Connect() }

// Close releases the transport. Safe to call repeatedly.
func (c *Client) Close() { c.transport.Close() }

// queue appends one line for ordered outbound delivery; the transport-level
// framing adds the CR LF terminator on write.
func (c *Client) queue(line string) {
	c.outq = append(c.outq, line)
}

// writeLine sends a line immediately, bounded by what remains of deadline.
func (c *Client) writeLine(line string, deadline time.Time) error {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return fmt.Errorf("timeout while writing irc commands")
	}
	if _, err := c.transport.Write([]byte(line+"\r\n"), true, remaining); err != nil {
		return err
	}
	log.Debugf("irc write: %s", line)
	return nil
}

// flush drains the outbound queue in order.
func (c *Client) flush(deadline time.Time) error {
	for len(c.outq) > 0 {
		if err := c.writeLine(c.outq[0], deadline); err != nil {
			return err
		}
		c.outq = c.outq[1:]
	}
	return nil
}

// readLine returns the next inbound line, or ok=false if none arrives
// before the deadline.
func (c *Client) readLine(deadline time.Time) (string, bool, error) {
	for {
		if idx := bytes.IndexByte(c.inbuf.Bytes(), '\n'); idx >= 0 {
			raw := make([]byte, idx+1)
			c.inbuf.Read(raw)
			line := string(bytes.TrimRight(raw, "\r\n"))
			log.Debugf("irc read: %s", line)
			return line, true, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", false, nil
		}

		chunk, err := c.transport.Read(4096, true, remaining)
		if err != nil {
			return "", false, err
		}
		if len(chunk) == 0 {
			return "", false, nil
		}
		c.inbuf.Write(chunk)
	}
}

// nickCollision applies the injected naming policy after a 432/433,
// tracking its own collision counter. The orchestrator is the single
// authority for nickname retries; the state machine's built-in re-offer
// never fires because these numerics are intercepted before it sees them.
func (c *Client) nickCollision(prefix string) (string, error) {
	if c.nickGen == nil {
		return "", ErrNoNickGenerator
	}
	if c.collisions >= nickCollisionMax {
		return "", ErrNickExhausted
	}
	c.collisions++
	c.sm.Ctx.DesiredNick = c.nickGen(prefix, c.nickLen, c.collisions)
	return c.sm.Ctx.DesiredNick, nil
}

// handshake pumps inbound lines until the deadline: PINGs are answered
// immediately, nickname collisions regenerate via the injected policy, and
// everything else flows through the state machine whose actions are
// executed in order.
func (c *Client) handshake(deadline time.Time, prefix string) error {
	for {
		line, ok, err := c.readLine(deadline)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		msg := proto.ParseLine(line)

		if proto.IsPing(msg) {
			if err := c.writeLine("PONG :"+proto.PingPayload(msg), deadline); err != nil {
				return err
			}
			continue
		}

		if msg.Numeric == proto.ErrErroneusNickname ||
			msg.Numeric == proto.ErrNicknameInUse {
			newNick, err := c.nickCollision(prefix)
			if err != nil {
				return err
			}
			// Send immediately, never queued.
			if err := c.writeLine("NICK "+newNick, deadline); err != nil {
				return err
			}
			continue
		}

		for _, act := range c.sm.OnMessage(msg) {
			switch act.Kind {
			case state.Fail:
				return &ProtocolError{Reason: act.Reason}
			case state.Send:
				if err := c.writeLine(act.Line, deadline); err != nil {
					return err
				}
			}
		}
	}
}

// tick returns the deadline for one pump slice: at most pumpInterval, never
// past the overall deadline.
func (c *Client) tick(deadline time.Time) time.Time {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return deadline
	}
	if remaining < pumpInterval {
		return deadline
	}
	return time.Now().Add(pumpInterval)
}

// Register completes the NICK/USER[/PASS] handshake within timeout. In
// nickserv mode the password is withheld from registration and used for a
// NickServ IDENTIFY immediately after.
func (c *Client) Register(timeout time.Duration, prefix string) error {
	started := time.Now()
	deadline := started.Add(timeout)

	// PASS is only offered during registration in server and znc modes.
	if c.authMode != AuthServer && c.authMode != AuthZNC {
		c.sm.Ctx.Password = ""
	}

	log.Debug("irc registration started")
	for _, act := range c.sm.StartRegistration() {
		if act.Kind == state.Send {
			c.queue(act.Line)
		}
	}

	for time.Now().Before(deadline) && !c.sm.Ctx.Registered {
		if err := c.flush(deadline); err != nil {
			return err
		}
		if err := c.handshake(c.tick(deadline), prefix); err != nil {
			return err
		}
	}

	if !c.sm.Ctx.Registered {
		log.Debugf("irc registration timeout after %s", time.Since(started))
		return ErrRegisterTimeout
	}
	log.Debugf("irc registration completed in %s", time.Since(started))

	if c.authMode == AuthNickServ {
		return c.Identify(timeout)
	}
	return nil
}

// Identify sends a NickServ IDENTIFY. It is a no-op without a password or
// outside nickserv mode.
func (c *Client) Identify(timeout time.Duration) error {
	if c.sm.Ctx.Password == "" || c.authMode != AuthNickServ {
		return nil
	}

	deadline := time.Now().Add(timeout)
	c.queue("PRIVMSG NickServ :IDENTIFY " + c.sm.Ctx.Password)
	if err := c.flush(deadline); err != nil {
		return err
	}
	return c.handshake(c.tick(deadline), "")
}

// Join requests channel membership and pumps until the server confirms it
// or the deadline elapses. An elapsed deadline is a logged best-effort
// outcome, not an error; a server rejection is.
func (c *Client) Join(channel string, timeout time.Duration, prefix, key string) error {
	chn := proto.NormalizeChannel(channel)
	if c.sm.Ctx.Joined[chn] {
		return nil
	}
	deadline := time.Now().Add(timeout)

	for _, act := range c.sm.RequestJoin(chn, key) {
		if act.Kind == state.Send {
			c.queue(act.Line)
		}
	}

	for time.Now().Before(deadline) && !c.sm.Ctx.Joined[chn] {
		if err := c.flush(deadline); err != nil {
			return err
		}
		if err := c.handshake(c.tick(deadline), prefix); err != nil {
			return err
		}
	}

	if !c.sm.Ctx.Joined[chn] {
		log.WithField("channel", chn).Warn("irc join confirmation not observed")
	}
	return nil
}

// Privmsg delivers one message to a channel or user, then drains any
// immediate server response so PINGs keep getting answered.
func (c *Client) Privmsg(target, message string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	c.queue("PRIVMSG " + target + " :" + message)
	if err := c.flush(deadline); err != nil {
		return err
	}
	return c.handshake(c.tick(deadline), "")
}

// Quit sends the farewell without waiting for acknowledgement.
func (c *Client) Quit(message string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for _, act := range c.sm.RequestQuit(message) {
		if act.Kind == state.Send {
			c.queue(act.Line)
		}
	}
	return c.flush(deadline)
}

// CheckConnection verifies the link by completing a PING/PONG round trip.
// Observing any PONG suffices; bouncers do not echo tokens reliably.
func (c *Client) CheckConnection(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	if err := c.writeLine("PING :ircnotify", deadline); err != nil {
		return false
	}

	for time.Now().Before(deadline) {
		line, ok, err := c.readLine(deadline)
		if err != nil {
			return false
		}
		if !ok {
			continue
		}
		msg := proto.ParseLine(line)
		if strings.EqualFold(msg.Command, "PONG") {
			return true
		}
	}
	return false
}
