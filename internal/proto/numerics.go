package proto

// IRC numeric replies this client reacts to.
const (
	RplWelcome   = 1   // RPL_WELCOME
	RplEndOfMOTD = 376 // RPL_ENDOFMOTD
	ErrNoMOTD    = 422 // ERR_NOMOTD

	RplEndOfNames = 366 // RPL_ENDOFNAMES

	ErrNoSuchChannel    = 403 // ERR_NOSUCHCHANNEL
	ErrErroneusNickname = 432 // ERR_ERRONEUSNICKNAME
	ErrNicknameInUse    = 433 // ERR_NICKNAMEINUSE
	ErrAlreadyOnChannel = 443 // ERR_USERONCHANNEL
	ErrPasswdMismatch   = 464 // ERR_PASSWDMISMATCH
	ErrYoureBanned      = 465 // ERR_YOUREBANNEDCREEP
	ErrNoPrivileges     = 468 // registration restricted
	ErrChannelIsFull    = 471 // ERR_CHANNELISFULL
	ErrInviteOnlyChan   = 473 // ERR_INVITEONLYCHAN
	ErrBannedFromChan   = 474 // ERR_BANNEDFROMCHAN
	ErrBadChannelKey    = 475 // ERR_BADCHANNELKEY
	ErrBadChanMask      = 476 // ERR_BADCHANMASK
	ErrNeedReggedNick   = 477 // ERR_NEEDREGGEDNICK
	ErrSecureOnlyChan   = 489 // ERR_SECUREONLYCHAN
)

// numericText maps rejection numerics to a short human-readable meaning
// surfaced alongside the server's own error text.
var numericText = map[int]string{
	ErrNoSuchChannel:    "No such channel",
	ErrErroneusNickname: "Erroneous nickname",
	ErrNicknameInUse:    "Nickname in use",
	ErrPasswdMismatch:   "Password incorrect",
	ErrYoureBanned:      "Banned from server",
	ErrNoPrivileges:     "Registration restricted",
	ErrChannelIsFull:    "Channel is full",
	ErrInviteOnlyChan:   "Invite-only channel",
	ErrBannedFromChan:   "Banned from channel",
	ErrBadChannelKey:    "Bad channel key",
	ErrBadChanMask:      "Bad channel mask",
	ErrNeedReggedNick:   "Channel requires a registered nickname",
	ErrSecureOnlyChan:   "Channel requires a secure connection",
}

// NumericText returns the human-readable meaning of a rejection numeric,
// or empty for numerics this client has no specific wording for.
func NumericText(numeric int) string {
	return numericText[numeric]
}
