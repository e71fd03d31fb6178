package notify

import (
	"regexp"

	"github.com/caronc/ircnotify/internal/irc"
)

// networkDefaults prefill connection details for well-known networks, so a
// bare hostname does the right thing. They only apply when the caller did
// not pin a port; an explicit port means the caller knows best.
type networkDefault struct {
	name    string
	pattern *regexp.Regexp
	port    int
	secure  bool
	mode    irc.AuthMode
}

var networkDefaults = []networkDefault{
	{
		name:    "Libera.Chat",
		pattern: regexp.MustCompile(`(?i)(^|\.)libera\.chat$`),
		port:    irc.DefaultSecurePort,
		secure:  true,
		mode:    irc.AuthNickServ,
	},
	{
		name:    "OFTC",
		pattern: regexp.MustCompile(`(?i)(^|\.)oftc\.net$`),
		port:    irc.DefaultSecurePort,
		secure:  true,
		mode:    irc.AuthNickServ,
	},
	{
		name:    "DALnet",
		pattern: regexp.MustCompile(`(?i)(^|\.)dal\.net$`),
		port:    irc.DefaultSecurePort,
		secure:  true,
		mode:    irc.AuthNickServ,
	},
	{
		name:    "Rizon",
		pattern: regexp.MustCompile(`(?i)(^|\.)rizon\.net$`),
		port:    irc.DefaultSecurePort,
		secure:  true,
		mode:    irc.AuthNickServ,
	},
	{
		name:    "EFnet",
		pattern: regexp.MustCompile(`(?i)(^|\.)efnet\.(org|net)$`),
		port:    irc.DefaultInsecurePort,
		secure:  false,
		mode:    irc.AuthNone,
	},
	{
		name:    "Undernet",
		pattern: regexp.MustCompile(`(?i)(^|\.)undernet\.org$`),
		port:    irc.DefaultInsecurePort,
		secure:  false,
		mode:    irc.AuthNone,
	},
}

// applyNetworkDefaults fills port, security and auth mode from the
// known-network table when the caller left the port unset.
func applyNetworkDefaults(opts *Options) {
	if opts.Port != 0 {
		return
	}
	for _, nd := range networkDefaults {
		if !nd.pattern.MatchString(opts.Host) {
			continue
		}
		log.Debugf("applying %s defaults", nd.name)
		opts.Port = nd.port
		opts.Secure = nd.secure
		if opts.AuthMode == "" {
			opts.AuthMode = nd.mode
		}
		return
	}
}
