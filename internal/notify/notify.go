// Package notify is the delivery backend built on the IRC client: it
// resolves target strings into channels and users, truncates message
// bodies to a safe wire budget and drives one connection per delivery.
package notify

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/caronc/ircnotify/internal/irc"
)

var log = logrus.WithField("component", "notify")

const (
	// AppID names this sender; it seeds generated nicknames and the
	// farewell text.
	AppID = "ircnotify"

	// BodyMaxLen is the conservative message budget. RFC 2812 caps an
	// IRC line at 512 bytes including CR LF; the rest accommodates the
	// PRIVMSG prefix overhead.
	BodyMaxLen = 380

	// registerTimeout bounds registration. IRC is not fast; large
	// networks routinely take 20s of handshaking before the welcome.
	registerTimeout = 30 * time.Second
)

var (
	userRe    = regexp.MustCompile(`^\s*@?([^ \t\r\n@#]+)$`)
	channelRe = regexp.MustCompile(`^\s*#([^ \t\r\n@#:]+)(?::([^ \t\r\n]+))?\s*$`)
)

// Channel is one channel target, with an optional join key.
type Channel struct {
	Name string
	Key  string
}

// Options configure a delivery Service.
type Options struct {
	Host string
	Port int // 0 applies network defaults, then the scheme default

	Secure     bool
	SkipVerify bool

	Nickname string
	FullName string
	Password string
	AuthMode irc.AuthMode

	// Join controls whether channels are joined before messaging them.
	// Channels with keys are always joined.
	Join bool

	// Targets are "#channel", "#channel:key" and "@user" strings.
	Targets []string

	// Timeout is the socket read budget; it also seeds the per-phase
	// join/send budgets.
	Timeout time.Duration

	Retries int
}

// Service delivers notifications to a fixed set of IRC targets.
type Service struct {
	opts     Options
	channels []Channel
	users    []string

	joinTimeout time.Duration
	sendTimeout time.Duration
}

// New parses the targets and applies per-network defaults. Invalid targets
// are dropped with a warning; having none left is the caller's problem at
// Send time, mirroring a misconfigured but constructible service.
func New(opts Options) (*Service, error) {
	applyNetworkDefaults(&opts)

	if opts.AuthMode == "" {
		opts.AuthMode = irc.AuthServer
	}

	s := &Service{opts: opts}
	for _, target := range opts.Targets {
		if m := channelRe.FindStringSubmatch(target); m != nil {
			s.channels = append(s.channels, Channel{Name: m[1], Key: m[2]})
			continue
		}
		if m := userRe.FindStringSubmatch(target); m != nil {
			s.users = append(s.users, m[1])
			continue
		}
		log.Warnf("dropped invalid IRC target (%s)", target)
	}

	srt := opts.Timeout
	s.joinTimeout = clamp(srt, 6*time.Second, 12*time.Second)
	s.sendTimeout = clamp(srt, 4*time.Second, 10*time.Second)
	return s, nil
}

// clamp bounds a configured budget, substituting the lower bound when the
// budget is unset.
func clamp(d, lo, hi time.Duration) time.Duration {
	if d <= 0 {
		return lo
	}
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

// Channels exposes the parsed channel targets.
func (s *Service) Channels() []Channel { return s.channels }

// Users exposes the parsed user targets.
func (s *Service) Users() []string { return s.users }

// TruncateBody trims a message body to the wire budget without splitting a
// UTF-8 sequence.
func TruncateBody(body string) string {
	if len(body) <= BodyMaxLen {
		return body
	}
	cut := BodyMaxLen
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut]
}

// Send delivers one notification to every configured target over a fresh
// connection. The title, when present, is prepended to the body.
func (s *Service) Send(title, body string) error {
	if len(s.channels) == 0 && len(s.users) == 0 {
		return fmt.Errorf("no IRC targets specified")
	}

	message := body
	if title != "" {
		message = strings.TrimSpace(title + " " + body)
	}
	message = TruncateBody(message)

	nickname := s.opts.Nickname
	if nickname == "" {
		nickname = irc.GenerateNick(AppID, irc.NickMaxLength, 0)
	}

	client, err := irc.NewClient(irc.Config{
		Host:          s.opts.Host,
		Port:          s.opts.Port,
		Secure:        s.opts.Secure,
		SkipVerify:    s.opts.SkipVerify,
		Nickname:      nickname,
		FullName:      s.fullName(),
		Password:      s.opts.Password,
		AuthMode:      s.opts.AuthMode,
		Timeout:       s.opts.Timeout,
		Retries:       s.opts.Retries,
		NickGenerator: irc.GenerateNick,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Connect(); err != nil {
		return s.fail(nickname, err)
	}
	if err := client.Register(registerTimeout, AppID); err != nil {
		return s.fail(nickname, err)
	}

	for _, chn := range s.channels {
		target := "#" + chn.Name
		if s.opts.Join || chn.Key != "" {
			if err := client.Join(target, s.joinTimeout, AppID, chn.Key); err != nil {
				return s.fail(nickname, err)
			}
		}
		if err := client.Privmsg(target, message, s.sendTimeout); err != nil {
			return s.fail(nickname, err)
		}
		log.Infof("sent IRC notification to %s as %s", target, client.Nickname())
	}

	for _, user := range s.users {
		if err := client.Privmsg(user, message, s.sendTimeout); err != nil {
			return s.fail(nickname, err)
		}
		log.Infof("sent IRC notification to @%s as %s", user, client.Nickname())
	}

	if err := client.Quit(AppID, s.sendTimeout); err != nil {
		// The message is already delivered; a failed farewell is not a
		// delivery failure.
		log.Debugf("irc quit failed: %v", err)
	}
	return nil
}

func (s *Service) fullName() string {
	if s.opts.FullName != "" {
		return s.opts.FullName
	}
	return AppID
}

func (s *Service) fail(nickname string, err error) error {
	log.Warnf("failed to send IRC notification to %s as %s", s.opts.Host, nickname)
	log.Debugf("irc error: %v", err)
	return fmt.Errorf("irc notification to %s: %w", s.opts.Host, err)
}
