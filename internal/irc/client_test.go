package irc

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// session wraps the server side of one scripted IRC conversation.
type session struct {
	conn net.Conn
	br   *bufio.Reader
}

func (s *session) readLine() string {
	s.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := s.br.ReadString('\n')
	if err != nil {
		return ""
	}
	return strings.TrimRight(line, "\r\n")
}

// awaitPrefix discards lines until one starts with prefix; an empty string
// means the connection died first.
func (s *session) awaitPrefix(prefix string) string {
	for {
		line := s.readLine()
		if line == "" || strings.HasPrefix(line, prefix) {
			return line
		}
	}
}

func (s *session) send(line string) {
	s.conn.Write([]byte(line + "\r\n"))
}

// linger keeps the connection open while the client finishes its pump
// slices, so a close is never mistaken for an I/O failure.
func (s *session) linger() {
	time.Sleep(3 * time.Second)
}

// startServer runs script against the first accepted connection and
// returns a client Config pointing at it.
func startServer(t *testing.T, script func(s *session)) Config {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		script(&session{conn: conn, br: bufio.NewReader(conn)})
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return Config{
		Host:     host,
		Port:     port,
		Nickname: "nick",
		FullName: "full name",
		Timeout:  2 * time.Second,
	}
}

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	c, err := NewClient(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Connect())
	t.Cleanup(c.Close)
	return c
}

// registerScript performs the server side of a plain successful
// registration, confirming the nickname the client offered.
func registerScript(s *session) string {
	nickLine := s.awaitPrefix("NICK ")
	s.awaitPrefix("USER ")
	nick := strings.TrimPrefix(nickLine, "NICK ")
	s.send(":srv 001 " + nick + " :Welcome")
	return nick
}

func TestRegisterWelcome(t *testing.T) {
	cfg := startServer(t, func(s *session) {
		s.awaitPrefix("USER ")
		s.send(":srv 001 mynick :Welcome")
		s.linger()
	})

	c := newTestClient(t, cfg)
	require.NoError(t, c.Register(10*time.Second, "ap"))
	assert.Equal(t, "mynick", c.Nickname())
}

func TestRegisterAnswersPingFirst(t *testing.T) {
	afterPing := make(chan string, 1)
	cfg := startServer(t, func(s *session) {
		s.awaitPrefix("USER ")
		s.send("PING :abc123")
		afterPing <- s.readLine()
		s.send(":srv 001 nick :Welcome")
		s.linger()
	})

	c := newTestClient(t, cfg)
	require.NoError(t, c.Register(10*time.Second, "ap"))

	select {
	case line := <-afterPing:
		// The PONG must be the next outbound line after the PING.
		assert.Equal(t, "PONG :abc123", line)
	case <-time.After(5 * time.Second):
		t.Fatal("no line observed after PING")
	}
}

func TestRegisterSendsPassInServerMode(t *testing.T) {
	first := make(chan string, 1)
	cfg := startServer(t, func(s *session) {
		first <- s.readLine()
		s.awaitPrefix("USER ")
		s.send(":srv 001 nick :Welcome")
		s.linger()
	})
	cfg.Password = "secret"
	cfg.AuthMode = AuthServer

	c := newTestClient(t, cfg)
	require.NoError(t, c.Register(10*time.Second, "ap"))
	assert.Equal(t, "PASS secret", <-first)
}

func TestRegisterNickServIdentify(t *testing.T) {
	first := make(chan string, 1)
	identify := make(chan string, 1)
	cfg := startServer(t, func(s *session) {
		first <- s.readLine()
		s.awaitPrefix("USER ")
		s.send(":srv 001 nick :Welcome")
		identify <- s.awaitPrefix("PRIVMSG NickServ ")
		s.linger()
	})
	cfg.Password = "secret"
	cfg.AuthMode = AuthNickServ

	c := newTestClient(t, cfg)
	require.NoError(t, c.Register(10*time.Second, "ap"))

	// The password is withheld from registration in nickserv mode.
	assert.Equal(t, "NICK nick", <-first)

	select {
	case line := <-identify:
		assert.Equal(t, "PRIVMSG NickServ :IDENTIFY secret", line)
	case <-time.After(5 * time.Second):
		t.Fatal("no NickServ IDENTIFY observed")
	}
}

func TestRegisterRejection(t *testing.T) {
	cfg := startServer(t, func(s *session) {
		s.awaitPrefix("USER ")
		s.send(":srv 464 nick :Bad password")
		s.linger()
	})
	cfg.Password = "wrong"

	c := newTestClient(t, cfg)
	err := c.Register(10*time.Second, "ap")

	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Reason, "Password incorrect")
	assert.Contains(t, perr.Reason, "Bad password")
}

func TestRegisterTimeout(t *testing.T) {
	cfg := startServer(t, func(s *session) {
		s.awaitPrefix("USER ")
		// Never complete the handshake.
		s.linger()
	})

	c := newTestClient(t, cfg)
	err := c.Register(500*time.Millisecond, "ap")
	assert.ErrorIs(t, err, ErrRegisterTimeout)
}

func TestRegisterNickCollisionRetries(t *testing.T) {
	cfg := startServer(t, func(s *session) {
		s.awaitPrefix("USER ")
		s.send(":srv 433 * nick :Nickname is already in use")
		renick := s.awaitPrefix("NICK ")
		s.send(":srv 001 " + strings.TrimPrefix(renick, "NICK ") + " :Welcome")
		s.linger()
	})
	cfg.NickGenerator = func(prefix string, maxLength, collision int) string {
		return prefix + strconv.Itoa(collision)
	}

	c := newTestClient(t, cfg)
	require.NoError(t, c.Register(10*time.Second, "ap"))
	assert.Equal(t, "ap1", c.Nickname())
	assert.Equal(t, 1, c.collisions)
}

func TestRegisterNickCollisionExhaustion(t *testing.T) {
	cfg := startServer(t, func(s *session) {
		for {
			line := s.awaitPrefix("NICK ")
			if line == "" {
				return
			}
			s.send(":srv 433 * " + strings.TrimPrefix(line, "NICK ") + " :in use")
		}
	})
	cfg.NickGenerator = GenerateNick

	c := newTestClient(t, cfg)
	err := c.Register(10*time.Second, "ap")
	assert.ErrorIs(t, err, ErrNickExhausted)
}

func TestRegisterNickCollisionNoGenerator(t *testing.T) {
	cfg := startServer(t, func(s *session) {
		s.awaitPrefix("USER ")
		s.send(":srv 433 * nick :in use")
		s.linger()
	})

	c := newTestClient(t, cfg)
	err := c.Register(10*time.Second, "ap")
	assert.ErrorIs(t, err, ErrNoNickGenerator)
}

func TestJoinConfirmed(t *testing.T) {
	cfg := startServer(t, func(s *session) {
		nick := registerScript(s)
		s.awaitPrefix("JOIN #test")
		s.send(":srv 366 " + nick + " #test :End of /NAMES list.")
		s.linger()
	})

	c := newTestClient(t, cfg)
	require.NoError(t, c.Register(10*time.Second, "ap"))
	require.NoError(t, c.Join("test", 10*time.Second, "ap", ""))
	assert.True(t, c.sm.Ctx.Joined["#test"])

	// Already joined: immediate no-op.
	require.NoError(t, c.Join("#test", time.Millisecond, "ap", ""))
}

func TestJoinWithKey(t *testing.T) {
	joinLine := make(chan string, 1)
	cfg := startServer(t, func(s *session) {
		nick := registerScript(s)
		joinLine <- s.awaitPrefix("JOIN ")
		s.send(":srv 366 " + nick + " #priv :End of /NAMES list.")
		s.linger()
	})

	c := newTestClient(t, cfg)
	require.NoError(t, c.Register(10*time.Second, "ap"))
	require.NoError(t, c.Join("#priv", 10*time.Second, "ap", "hunter2"))
	assert.Equal(t, "JOIN #priv hunter2", <-joinLine)
}

func TestJoinTimeoutIsBestEffort(t *testing.T) {
	cfg := startServer(t, func(s *session) {
		registerScript(s)
		s.awaitPrefix("JOIN ")
		// Withhold the confirmation.
		s.linger()
	})

	c := newTestClient(t, cfg)
	require.NoError(t, c.Register(10*time.Second, "ap"))

	err := c.Join("#slow", 300*time.Millisecond, "ap", "")
	assert.NoError(t, err)
	assert.False(t, c.sm.Ctx.Joined["#slow"])
}

func TestJoinRejection(t *testing.T) {
	cfg := startServer(t, func(s *session) {
		nick := registerScript(s)
		s.awaitPrefix("JOIN ")
		s.send(":srv 473 " + nick + " #vip :Cannot join channel (+i)")
		s.linger()
	})

	c := newTestClient(t, cfg)
	require.NoError(t, c.Register(10*time.Second, "ap"))

	err := c.Join("#vip", 10*time.Second, "ap", "")
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Reason, "Invite-only channel")
}

func TestPrivmsg(t *testing.T) {
	got := make(chan string, 1)
	cfg := startServer(t, func(s *session) {
		registerScript(s)
		got <- s.awaitPrefix("PRIVMSG ")
		s.linger()
	})

	c := newTestClient(t, cfg)
	require.NoError(t, c.Register(10*time.Second, "ap"))
	require.NoError(t, c.Privmsg("#test", "hello world", 2*time.Second))
	assert.Equal(t, "PRIVMSG #test :hello world", <-got)
}

func TestQuit(t *testing.T) {
	got := make(chan string, 1)
	cfg := startServer(t, func(s *session) {
		registerScript(s)
		got <- s.awaitPrefix("QUIT ")
		s.linger()
	})

	c := newTestClient(t, cfg)
	require.NoError(t, c.Register(10*time.Second, "ap"))
	require.NoError(t, c.Quit("bye", 2*time.Second))
	assert.Equal(t, "QUIT :bye", <-got)
}

func TestCheckConnection(t *testing.T) {
	cfg := startServer(t, func(s *session) {
		s.awaitPrefix("PING ")
		s.send(":srv PONG srv :ircnotify")
		s.linger()
	})

	c := newTestClient(t, cfg)
	assert.True(t, c.CheckConnection(5*time.Second))
}

func TestCheckConnectionTimeout(t *testing.T) {
	cfg := startServer(t, func(s *session) {
		s.awaitPrefix("PING ")
		s.linger()
	})

	c := newTestClient(t, cfg)
	assert.False(t, c.CheckConnection(300*time.Millisecond))
}

func TestDefaultPorts(t *testing.T) {
	c, err := NewClient(Config{Host: "irc.example.com", Nickname: "n", FullName: "f"})
	require.NoError(t, err)
	c.Close()

	_, err = NewClient(Config{Host: "irc.example.com", Port: -1, Nickname: "n"})
	assert.Error(t, err)
}

func TestParseAuthMode(t *testing.T) {
	for name, want := range map[string]AuthMode{
		"none":     AuthNone,
		"server":   AuthServer,
		"nickserv": AuthNickServ,
		"znc":      AuthZNC,
		"nick":     AuthNickServ,
		"s":        AuthServer,
		"z":        AuthZNC,
	} {
		got, err := ParseAuthMode(name)
		require.NoError(t, err, "name=%q", name)
		assert.Equal(t, want, got, "name=%q", name)
	}

	for _, name := range []string{"", "n", "bogus"} {
		_, err := ParseAuthMode(name)
		assert.Error(t, err, "name=%q", name)
	}
}

func TestGenerateNick(t *testing.T) {
	nick := GenerateNick("Notifier", 9, 0)
	assert.Len(t, nick, 9)
	assert.Equal(t, "notifi", nick[:6])

	nick = GenerateNick("Notifier", 9, 12)
	assert.Len(t, nick, 9)
	assert.Equal(t, byte('2'), nick[len(nick)-1])

	// Zero length falls back to the default budget.
	assert.Len(t, GenerateNick("x", 0, 0), NickMaxLength)
}
