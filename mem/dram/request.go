package dram

import (
	"github.com/sarchlab/rowarmor/mem/dram/internal/addressmapping"
	"github.com/sarchlab/rowarmor/mem/dram/internal/signal"
	"github.com/sarchlab/rowarmor/sim"
)

// Request is a memory access served by the controller.
type Request = signal.Request

// RequestKind is the coherence message type of a request.
type RequestKind = signal.RequestKind

// Command is a DRAM command issued by the controller.
type Command = signal.Command

// CommandKind is the type of a DRAM command.
type CommandKind = signal.CommandKind

// Location is the decoded position of an address in the DRAM.
type Location = addressmapping.Location

// A list of request kinds accepted by the controller.
const (
	ReadDirInfoReq  = signal.ReadDirInfoReq
	ReadDirInfoRep  = signal.ReadDirInfoRep
	Read            = signal.Read
	ExclusiveRead   = signal.ExclusiveRead
	SharedRead      = signal.SharedRead
	Evict           = signal.Evict
	EvictOwned      = signal.EvictOwned
	DirEvict        = signal.DirEvict
	SharedReadWrite = signal.SharedReadWrite
)

// A list of commands the controller issues.
const (
	CmdActivate          = signal.CmdKindActivate
	CmdRead              = signal.CmdKindRead
	CmdWrite             = signal.CmdKindWrite
	CmdPrecharge         = signal.CmdKindPrecharge
	CmdRefresh           = signal.CmdKindRefresh
	CmdRFM               = signal.CmdKindRFM
	CmdPreventiveRefresh = signal.CmdKindPreventiveRefresh
	CmdRowSwap           = signal.CmdKindRowSwap
)

// ParseRequestKind converts a trace token such as "read" or "evict" into a
// request kind.
func ParseRequestKind(s string) (RequestKind, bool) {
	return signal.ParseRequestKind(s)
}

// ReplyReceiver accepts the replies of a controller. It is usually the
// directory or the traffic driver that issued the requests.
type ReplyReceiver interface {
	AddRepEvent(t sim.VTime, req *Request)
}

// HookPosCommand marks the issue of a DRAM command. The hook item is a
// Command.
var HookPosCommand = &sim.HookPos{Name: "DRAMCommand"}

// HookPosReply marks a reply leaving the controller. The hook item is the
// served Request.
var HookPosReply = &sim.HookPos{Name: "DRAMReply"}
