package core

import "strings"

// Command is the closed set of supported bot commands.
type Command int

const (
	CommandUnknown Command = iota
	CommandStart
	CommandHelp
	CommandQuota
	CommandTerabox
	CommandSocialDownload
	CommandLlamaChat
	CommandGptChat
	CommandStats
	CommandBroadcast
	CommandResetQuota
	CommandSetLimit
)

// CommandClass groups commands by how the dispatcher treats them.
type CommandClass int

const (
	ClassUnknown CommandClass = iota
	ClassInfo
	ClassBackend
	ClassAdmin
)

// AllCommands lists every known command except CommandUnknown, in menu order.
var AllCommands = []Command{
	CommandStart,
	CommandHelp,
	CommandQuota,
	CommandTerabox,
	CommandSocialDownload,
	CommandLlamaChat,
	CommandGptChat,
	CommandStats,
	CommandBroadcast,
	CommandResetQuota,
	CommandSetLimit,
}

var commandAliases = map[string]Command{
	"start":      CommandStart,
	"help":       CommandHelp,
	"quota":      CommandQuota,
	"terabox":    CommandTerabox,
	"download":   CommandSocialDownload,
	"social":     CommandSocialDownload,
	"llama":      CommandLlamaChat,
	"gpt":        CommandGptChat,
	"stats":      CommandStats,
	"broadcast":  CommandBroadcast,
	"resetquota": CommandResetQuota,
	"setlimit":   CommandSetLimit,
}

// ParseCommand maps a command name such as "/terabox@MyBot" to a Command.
// Unrecognized names yield CommandUnknown.
func ParseCommand(name string) Command {
	value := strings.ToLower(strings.TrimSpace(name))
	value = strings.TrimPrefix(value, "/")
	if at := strings.IndexByte(value, '@'); at >= 0 {
		value = value[:at]
	}
	if cmd, ok := commandAliases[value]; ok {
		return cmd
	}
	return CommandUnknown
}

// String returns the canonical command name.
func (c Command) String() string {
	switch c {
	case CommandStart:
		return "start"
	case CommandHelp:
		return "help"
	case CommandQuota:
		return "quota"
	case CommandTerabox:
		return "terabox"
	case CommandSocialDownload:
		return "download"
	case CommandLlamaChat:
		return "llama"
	case CommandGptChat:
		return "gpt"
	case CommandStats:
		return "stats"
	case CommandBroadcast:
		return "broadcast"
	case CommandResetQuota:
		return "resetquota"
	case CommandSetLimit:
		return "setlimit"
	default:
		return "unknown"
	}
}

// Class reports how the dispatcher handles the command.
func (c Command) Class() CommandClass {
	switch c {
	case CommandStart, CommandHelp, CommandQuota:
		return ClassInfo
	case CommandTerabox, CommandSocialDownload, CommandLlamaChat, CommandGptChat:
		return ClassBackend
	case CommandStats, CommandBroadcast, CommandResetQuota, CommandSetLimit:
		return ClassAdmin
	default:
		return ClassUnknown
	}
}

// MarshalText encodes the canonical name.
func (c Command) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}
