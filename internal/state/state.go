// Package state implements the connection state machine: a pure transition
// function from (current state, inbound message) to a new state plus an
// ordered list of actions. It performs no I/O itself; the client executes
// the actions it returns.
package state

import (
	"fmt"
	"strings"

	"github.com/caronc/ircnotify/internal/proto"
)

// State is the connection lifecycle position.
type State int

const (
	Disconnected State = iota
	Registering
	Ready
	Joining
	Quitting
	Error
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Registering:
		return "registering"
	case Ready:
		return "ready"
	case Joining:
		return "joining"
	case Quitting:
		return "quitting"
	case Error:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ActionKind tags the instruction variants a transition may return.
type ActionKind int

const (
	Noop ActionKind = iota
	Send
	Fail
)

// Action is an ephemeral instruction returned by a single transition call.
// The client executes and discards it immediately.
type Action struct {
	Kind   ActionKind
	Line   string // outbound line for Send, without line terminator
	Reason string // failure description for Fail
}

func send(line string) Action {
	return Action{Kind: Send, Line: line}
}

// Context is the mutable connection state owned by one Machine.
type Context struct {
	DesiredNick  string
	AcceptedNick string
	FullName     string
	Password     string

	Registered bool
	MOTDDone   bool

	// Joined holds channels confirmed by the server. It only ever grows;
	// a channel is never removed short of discarding the whole context.
	Joined map[string]bool

	LastError string
}

// NewContext builds a Context for one connection attempt.
func NewContext(nick, fullName, password string) *Context {
	return &Context{
		DesiredNick:  nick,
		AcceptedNick: nick,
		FullName:     fullName,
		Password:     password,
		Joined:       make(map[string]bool),
	}
}

// Machine drives one connection's protocol negotiation. It is not safe for
// concurrent use; the owning client serializes all calls.
type Machine struct {
	State State
	Ctx   *Context
}

// NewMachine returns a Machine in the Disconnected state.
func NewMachine(ctx *Context) *Machine {
	return &Machine{State: Disconnected, Ctx: ctx}
}

// StartRegistration moves to Registering and emits the PASS (when a
// password is configured), NICK and USER lines, in that order.
func (m *Machine) StartRegistration() []Action {
	m.State = Registering

	var actions []Action
	if m.Ctx.Password != "" {
		actions = append(actions, send("PASS "+m.Ctx.Password))
	}
	actions = append(actions, send("NICK "+m.Ctx.DesiredNick))
	actions = append(actions, send(fmt.Sprintf(
		"USER %s 0 * :%s", m.Ctx.DesiredNick, m.Ctx.FullName)))
	return actions
}

// RequestJoin moves to Joining and emits one JOIN line, with a key suffix
// when supplied.
func (m *Machine) RequestJoin(channel, key string) []Action {
	m.State = Joining
	line := "JOIN " + channel
	if key != "" {
		line += " " + key
	}
	return []Action{send(line)}
}

// RequestQuit moves to Quitting and emits one QUIT line carrying the
// farewell text.
func (m *Machine) RequestQuit(message string) []Action {
	m.State = Quitting
	return []Action{send("QUIT :" + message)}
}

// OnMessage applies one inbound message to the machine and returns the
// resulting actions. Once in Error or Quitting the machine ignores all
// further messages.
func (m *Machine) OnMessage(msg proto.Message) []Action {
	switch m.State {
	case Error, Quitting:
		return nil
	case Registering:
		return m.onRegistering(msg)
	case Joining:
		return m.onJoining(msg)
	}
	return nil
}

func (m *Machine) onRegistering(msg proto.Message) []Action {
	switch msg.Numeric {
	case proto.ErrPasswdMismatch, proto.ErrYoureBanned, proto.ErrNoPrivileges:
		// Terminal: the server refused registration outright.
		return m.fail(msg)

	case proto.ErrErroneusNickname, proto.ErrNicknameInUse:
		// Re-offer the currently desired nickname. The caller is expected
		// to have applied its own collision-naming policy by now.
		return []Action{send("NICK " + m.Ctx.DesiredNick)}

	case proto.RplWelcome:
		if nick := proto.WelcomeNick(msg); nick != "" {
			m.Ctx.AcceptedNick = nick
		}
		m.Ctx.Registered = true
		m.State = Ready

	case proto.RplEndOfMOTD, proto.ErrNoMOTD:
		m.Ctx.MOTDDone = true
		if m.Ctx.Registered {
			m.State = Ready
		}
	}
	return nil
}

// joinErrors are the numerics a server answers a JOIN with on rejection.
var joinErrors = map[int]bool{
	proto.ErrNoSuchChannel:  true,
	proto.ErrChannelIsFull:  true,
	proto.ErrInviteOnlyChan: true,
	proto.ErrBannedFromChan: true,
	proto.ErrBadChannelKey:  true,
	proto.ErrBadChanMask:    true,
	proto.ErrNeedReggedNick: true,
	proto.ErrSecureOnlyChan: true,
}

func (m *Machine) onJoining(msg proto.Message) []Action {
	if joinErrors[msg.Numeric] {
		return m.fail(msg)
	}

	// 443 (already on channel) and 366 (end of NAMES) both carry the
	// channel as the second parameter and confirm membership.
	if (msg.Numeric == proto.ErrAlreadyOnChannel ||
		msg.Numeric == proto.RplEndOfNames) && len(msg.Params) >= 2 {
		m.Ctx.Joined[msg.Params[1]] = true
		m.State = Ready
		return nil
	}

	if strings.EqualFold(msg.Command, "JOIN") {
		channel := msg.Trailing
		if !msg.HasTrailing && len(msg.Params) > 0 {
			channel = msg.Params[0]
		}
		if channel != "" {
			m.Ctx.Joined[channel] = true
			m.State = Ready
		}
	}
	return nil
}

// fail records a human-readable reason, enters the terminal Error state
// and returns a single Fail action.
func (m *Machine) fail(msg proto.Message) []Action {
	reason := errText(msg)
	if meaning := proto.NumericText(msg.Numeric); meaning != "" {
		reason = meaning + ": " + reason
	}
	m.Ctx.LastError = reason
	m.State = Error
	return []Action{{Kind: Fail, Reason: reason}}
}

// errText derives error text from a rejection reply: the trailing text if
// present, else the parameters joined, else a generic fallback.
func errText(msg proto.Message) string {
	if msg.HasTrailing && msg.Trailing != "" {
		return msg.Trailing
	}
	if len(msg.Params) > 0 {
		return strings.Join(msg.Params, " ")
	}
	return "IRC error"
}
