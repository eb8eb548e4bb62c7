// Package workload feeds memory requests into a controller and collects the
// replies.
package workload

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sarchlab/rowarmor/mem/dram"
	"github.com/sarchlab/rowarmor/sim"
)

// TraceEntry is one request of a trace.
type TraceEntry struct {
	Time    sim.VTime
	Kind    dram.RequestKind
	Address uint64
	Thread  int
}

// ReadTrace parses a trace with one request per line:
//
//	<time> <kind> <address> [thread]
//
// Kinds use the controller names (read, e_rd, s_rd, evict, s_rd_wr, ...).
// Addresses may be hex. Blank lines and lines starting with # are skipped.
// Entries must be in time order.
func ReadTrace(r io.Reader) ([]TraceEntry, error) {
	var (
		entries []TraceEntry
		lineNo  int
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		e, err := parseEntry(strings.Fields(line))
		if err != nil {
			return nil, fmt.Errorf("trace line %d: %w", lineNo, err)
		}

		if n := len(entries); n > 0 && e.Time < entries[n-1].Time {
			return nil, fmt.Errorf("trace line %d: time %d is before %d",
				lineNo, e.Time, entries[n-1].Time)
		}

		entries = append(entries, e)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading trace: %w", err)
	}

	return entries, nil
}

func parseEntry(fields []string) (TraceEntry, error) {
	var e TraceEntry

	if len(fields) < 3 || len(fields) > 4 {
		return e, fmt.Errorf("expected 3 or 4 fields, got %d", len(fields))
	}

	t, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return e, fmt.Errorf("bad time %q: %w", fields[0], err)
	}

	kind, ok := dram.ParseRequestKind(fields[1])
	if !ok {
		return e, fmt.Errorf("unknown request kind %q", fields[1])
	}

	addr, err := strconv.ParseUint(fields[2], 0, 64)
	if err != nil {
		return e, fmt.Errorf("bad address %q: %w", fields[2], err)
	}

	e.Time = sim.VTime(t)
	e.Kind = kind
	e.Address = addr

	if len(fields) == 4 {
		thread, err := strconv.Atoi(fields[3])
		if err != nil || thread < 0 {
			return e, fmt.Errorf("bad thread %q", fields[3])
		}

		e.Thread = thread
	}

	return e, nil
}
