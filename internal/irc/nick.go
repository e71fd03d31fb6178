package irc

import (
	"math/rand"
	"strings"
)

const nickCharset = "abcdefghijklmnopqrstuvwxyz0123456789_"

// GenerateNick is the default NickGenerator: the lowercased prefix padded
// with random nickname-safe characters up to maxLength, with the collision
// count folded into the final character so retries stay distinct.
func GenerateNick(prefix string, maxLength, collision int) string {
	if maxLength <= 0 {
		maxLength = NickMaxLength
	}

	base := strings.ToLower(strings.TrimSpace(prefix))
	if cut := maxLength - 3; cut <= 0 {
		base = ""
	} else if len(base) > cut {
		base = base[:cut]
	}

	nick := []byte(base)
	for len(nick) < maxLength {
		nick = append(nick, nickCharset[rand.Intn(len(nickCharset))])
	}
	nick = nick[:maxLength]

	if collision > 0 {
		nick[len(nick)-1] = byte('0' + collision%10)
	}
	return string(nick)
}
