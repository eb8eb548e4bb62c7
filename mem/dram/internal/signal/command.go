package signal

import (
	"github.com/sarchlab/rowarmor/mem/dram/internal/addressmapping"
	"github.com/sarchlab/rowarmor/sim"
)

// CommandKind is the DRAM command a controller issues to a bank.
type CommandKind int

// A list of all commands.
const (
	CmdKindActivate CommandKind = iota
	CmdKindRead
	CmdKindWrite
	CmdKindPrecharge
	CmdKindRefresh
	CmdKindRFM
	CmdKindPreventiveRefresh
	CmdKindRowSwap
)

var cmdNames = [...]string{
	"ACT", "RD", "WR", "PRE", "REF", "RFM", "PREF", "SWAP",
}

func (c CommandKind) String() string {
	if int(c) < len(cmdNames) {
		return cmdNames[c]
	}

	return "UNKNOWN"
}

// Command records an issued DRAM command.
type Command struct {
	Kind     CommandKind
	Time     sim.VTime
	Location addressmapping.Location
	ThreadID int
	Request  *Request
}
