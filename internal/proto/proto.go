// Package proto implements the line-level IRC protocol codec: parsing raw
// server lines into structured messages and a handful of shape predicates
// used by the connection state machine and the client.
//
// The codec is deliberately lenient. A malformed line parses to a Message
// with an empty command rather than an error, since one unparseable line
// must never abort an open connection.
package proto

import "strings"

// Message is a single parsed IRC server line. It is a plain value; the
// parser produces one per inbound line and nothing mutates it afterwards.
type Message struct {
	// Raw is the line as received, minus the trailing CR/LF.
	Raw string

	// Prefix is the sender prefix (the text after a leading ':' up to the
	// first space), or empty when the line carried none.
	Prefix string

	// Command is the command token ("PRIVMSG", "PING", "001", ...).
	Command string

	// Params are the positional parameters, not including the trailing
	// parameter.
	Params []string

	// Trailing is the free-text parameter introduced by " :". It may
	// contain spaces and is never split further. HasTrailing distinguishes
	// an absent trailing parameter from an empty one.
	Trailing    string
	HasTrailing bool

	// Numeric is the three-digit reply code when Command is purely
	// numeric ("001" -> 1), or 0 for named commands.
	Numeric int
}

// ParseLine parses one raw server line into a Message.
//
// Parsing order: strip CR/LF; a leading ':' introduces the sender prefix up
// to the next space; the remainder is split at the first " :" into leading
// tokens and the trailing parameter; the leading tokens are whitespace-split
// into the command plus parameters.
func ParseLine(raw string) Message {
	line := strings.TrimRight(raw, "\r\n")
	msg := Message{Raw: line}

	rest := line
	if strings.HasPrefix(rest, ":") {
		if idx := strings.Index(rest, " "); idx >= 0 {
			msg.Prefix = rest[1:idx]
			rest = rest[idx+1:]
		} else {
			msg.Prefix = rest[1:]
			rest = ""
		}
	}

	if idx := strings.Index(rest, " :"); idx >= 0 {
		msg.Trailing = rest[idx+2:]
		msg.HasTrailing = true
		rest = rest[:idx]
	}

	if fields := strings.Fields(rest); len(fields) > 0 {
		msg.Command = fields[0]
		msg.Params = fields[1:]
	}

	msg.Numeric = numericOf(msg.Command)
	return msg
}

// numericOf returns the integer value of a purely-digit three character
// command, or 0 for anything else.
func numericOf(command string) int {
	if len(command) != 3 {
		return 0
	}
	n := 0
	for _, c := range command {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// IsPing reports whether the message is a server PING.
func IsPing(msg Message) bool {
	return strings.EqualFold(msg.Command, "PING")
}

// PingPayload returns the token a PONG reply must echo: the trailing
// parameter if present, otherwise the first positional parameter, otherwise
// empty.
func PingPayload(msg Message) string {
	if msg.HasTrailing {
		return msg.Trailing
	}
	if len(msg.Params) > 0 {
		return msg.Params[0]
	}
	return ""
}

// WelcomeNick extracts the server-accepted nickname from a 001 welcome
// reply. It returns empty for any other message, or when the welcome
// carried no nickname parameter.
func WelcomeNick(msg Message) string {
	if msg.Numeric != RplWelcome || len(msg.Params) == 0 {
		return ""
	}
	return msg.Params[0]
}

// NormalizeChannel trims surrounding whitespace and ensures a '#' prefix.
// An all-whitespace input normalizes to the empty string.
func NormalizeChannel(channel string) string {
	chn := strings.TrimSpace(channel)
	if chn == "" {
		return ""
	}
	if !strings.HasPrefix(chn, "#") {
		chn = "#" + chn
	}
	return chn
}
