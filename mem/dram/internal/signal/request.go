// Package signal defines the requests and commands that flow through a
// memory controller.
package signal

import "github.com/sarchlab/rowarmor/sim"

// RequestKind is the coherence message type carried by a request.
type RequestKind int

// A list of all request kinds a memory controller accepts.
const (
	ReadDirInfoReq RequestKind = iota
	ReadDirInfoRep
	Read
	ExclusiveRead
	SharedRead
	Evict
	EvictOwned
	DirEvict
	SharedReadWrite
)

var kindNames = map[RequestKind]string{
	ReadDirInfoReq:  "rd_dir_info_req",
	ReadDirInfoRep:  "rd_dir_info_rep",
	Read:            "read",
	ExclusiveRead:   "e_rd",
	SharedRead:      "s_rd",
	Evict:           "evict",
	EvictOwned:      "evict_owned",
	DirEvict:        "dir_evict",
	SharedReadWrite: "s_rd_wr",
}

func (k RequestKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}

	return "unknown"
}

// IsRead returns true if the request reads the DRAM array.
func (k RequestKind) IsRead() bool {
	switch k {
	case ReadDirInfoReq, ReadDirInfoRep, Read, ExclusiveRead, SharedRead:
		return true
	}

	return false
}

// IsWrite returns true if the request writes the DRAM array.
func (k RequestKind) IsWrite() bool {
	switch k {
	case Evict, EvictOwned, DirEvict, SharedReadWrite:
		return true
	}

	return false
}

// ParseRequestKind converts a trace token into a request kind.
func ParseRequestKind(s string) (RequestKind, bool) {
	for k, n := range kindNames {
		if n == s {
			return k, true
		}
	}

	return 0, false
}

// Request is a memory access served by a controller.
type Request struct {
	ID       string
	Address  uint64
	Kind     RequestKind
	ThreadID int

	// Internal marks requests generated by a controller itself. They are
	// dropped on completion instead of being replied to.
	Internal bool

	// ArrivalTime is set when the controller accepts the request.
	ArrivalTime sim.VTime

	// Payload is opaque to the controller.
	Payload any
}
