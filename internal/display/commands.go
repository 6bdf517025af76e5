package display

import (
	"fmt"
	"strings"
)

// CommandKind is a console command.
type CommandKind int

const (
	CmdTalk CommandKind = iota
	CmdPlay
	CmdPause
	CmdNext
	CmdPrevious
	CmdStopAlerts
	CmdVolume
	CmdLocale
	CmdStatus
	CmdHelp
	CmdQuit
)

// Command is a parsed console line.
type Command struct {
	Kind CommandKind
	Arg  string
}

var commandWords = map[string]CommandKind{
	"talk":     CmdTalk,
	"t":        CmdTalk,
	"play":     CmdPlay,
	"pause":    CmdPause,
	"next":     CmdNext,
	"prev":     CmdPrevious,
	"previous": CmdPrevious,
	"stop":     CmdStopAlerts,
	"volume":   CmdVolume,
	"vol":      CmdVolume,
	"locale":   CmdLocale,
	"status":   CmdStatus,
	"help":     CmdHelp,
	"?":        CmdHelp,
	"quit":     CmdQuit,
	"exit":     CmdQuit,
	"q":        CmdQuit,
}

// HelpText lists the console commands.
const HelpText = `talk             start or stop a recording
play | pause     media controls (silence a ringing alert)
next | prev      skip tracks
stop             silence ringing alerts
volume <0-100>   set the local volume
locale <tag>     switch locale (en-US, en-GB, de-DE)
status           print the current state
quit             exit`

// ParseCommand parses one console line.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("empty command")
	}

	kind, ok := commandWords[strings.ToLower(fields[0])]
	if !ok {
		return Command{}, fmt.Errorf("unknown command %q (try help)", fields[0])
	}

	cmd := Command{Kind: kind}
	switch kind {
	case CmdVolume, CmdLocale:
		if len(fields) != 2 {
			return Command{}, fmt.Errorf("%s takes one argument", fields[0])
		}
		cmd.Arg = fields[1]
	default:
		if len(fields) > 1 {
			return Command{}, fmt.Errorf("%s takes no arguments", fields[0])
		}
	}
	return cmd, nil
}
