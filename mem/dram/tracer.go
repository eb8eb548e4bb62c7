package dram

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/sarchlab/rowarmor/datarecording"
	"github.com/sarchlab/rowarmor/sim"
)

// CommandTracer is a hook that prints one line per DRAM command.
type CommandTracer struct {
	w     io.Writer
	paint map[CommandKind]*color.Color
}

// NewCommandTracer creates a tracer that writes to w. With colored set, the
// command names are colored by kind.
func NewCommandTracer(w io.Writer, colored bool) *CommandTracer {
	t := &CommandTracer{w: w}
	if !colored {
		return t
	}

	t.paint = map[CommandKind]*color.Color{
		CmdActivate:          color.New(color.FgGreen),
		CmdRead:              color.New(color.FgCyan),
		CmdWrite:             color.New(color.FgYellow),
		CmdPrecharge:         color.New(color.FgBlue),
		CmdRefresh:           color.New(color.FgMagenta),
		CmdRFM:               color.New(color.FgRed),
		CmdPreventiveRefresh: color.New(color.FgRed, color.Bold),
		CmdRowSwap:           color.New(color.FgRed, color.Underline),
	}

	for _, c := range t.paint {
		c.EnableColor()
	}

	return t
}

// Func prints the command carried by the hook context.
func (t *CommandTracer) Func(ctx sim.HookCtx) {
	if ctx.Pos != HookPosCommand {
		return
	}

	cmd, ok := ctx.Item.(Command)
	if !ok {
		return
	}

	name := cmd.Kind.String()
	if c, found := t.paint[cmd.Kind]; found {
		name = c.Sprint(name)
	}

	fmt.Fprintf(t.w, "  -- %s [%d, %d, 0x%x] at %d, thread %d\n",
		name, cmd.Location.Rank, cmd.Location.Bank, cmd.Location.Row,
		cmd.Time, cmd.ThreadID)
}

// CommandTable is the table that DBTracer writes to.
const CommandTable = "dram_commands"

// CommandEntry is a row of CommandTable.
type CommandEntry struct {
	Component string
	Command   string
	Time      uint64
	Rank      int
	Bank      int
	Row       uint64
	Thread    int
	RequestID string
}

// ReplyEntry is a row of ReplyTable.
type ReplyEntry struct {
	Component string
	RequestID string
	Kind      string
	Address   uint64
	Thread    int
	Arrival   uint64
	Reply     uint64
}

// ReplyTable is the table that DBTracer writes served requests to.
const ReplyTable = "dram_replies"

// DBTracer is a hook that records commands and replies into a data
// recorder.
type DBTracer struct {
	recorder datarecording.DataRecorder
}

// NewDBTracer creates a DBTracer and the tables it writes to.
func NewDBTracer(recorder datarecording.DataRecorder) *DBTracer {
	recorder.CreateTable(CommandTable, CommandEntry{})
	recorder.CreateTable(ReplyTable, ReplyEntry{})

	return &DBTracer{recorder: recorder}
}

// Func records the command or the reply carried by the hook context.
func (t *DBTracer) Func(ctx sim.HookCtx) {
	component := ""
	if n, ok := ctx.Domain.(interface{ Name() string }); ok {
		component = n.Name()
	}

	switch ctx.Pos {
	case HookPosCommand:
		cmd := ctx.Item.(Command)
		entry := CommandEntry{
			Component: component,
			Command:   cmd.Kind.String(),
			Time:      uint64(cmd.Time),
			Rank:      cmd.Location.Rank,
			Bank:      cmd.Location.Bank,
			Row:       cmd.Location.Row,
			Thread:    cmd.ThreadID,
		}

		if cmd.Request != nil {
			entry.RequestID = cmd.Request.ID
		}

		t.recorder.InsertData(CommandTable, entry)
	case HookPosReply:
		req := ctx.Item.(*Request)
		t.recorder.InsertData(ReplyTable, ReplyEntry{
			Component: component,
			RequestID: req.ID,
			Kind:      req.Kind.String(),
			Address:   req.Address,
			Thread:    req.ThreadID,
			Arrival:   uint64(req.ArrivalTime),
			Reply:     uint64(ctx.Now),
		})
	}
}
