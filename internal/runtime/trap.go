package runtime

import "fmt"

// TrapKind tags why the host bridge aborted a call.
type TrapKind int

const (
	TrapNone TrapKind = iota
	// TrapOutOfGas: a gas charge did not fit in the remaining budget.
	TrapOutOfGas
	// TrapMemoryAccess: the script passed a pointer or length outside its
	// memory or outside the buffer it was reading.
	TrapMemoryAccess
	// TrapEnvironment: the Environment failed a request.
	TrapEnvironment
)

func (k TrapKind) String() string {
	switch k {
	case TrapNone:
		return "none"
	case TrapOutOfGas:
		return "out of gas"
	case TrapMemoryAccess:
		return "memory access"
	case TrapEnvironment:
		return "environment"
	}
	return fmt.Sprintf("trap(%d)", int(k))
}

// Trap is raised from a host function to unwind the sandbox. The bridge keeps
// the first one it raises, so the controller never has to inspect what the
// engine hands back.
type Trap struct {
	Kind TrapKind
	Op   string
	Err  error
}

func (t *Trap) Error() string {
	return fmt.Sprintf("%s trap in %s: %v", t.Kind, t.Op, t.Err)
}

func (t *Trap) Unwrap() error {
	return t.Err
}

// MemoryAccessError describes an out of range copy between the host and the sandbox.
type MemoryAccessError struct {
	Ptr    int64
	Length int64
	Limit  uint64
}

func (e *MemoryAccessError) Error() string {
	return fmt.Sprintf("memory access out of bounds: ptr=%d len=%d limit=%d", e.Ptr, e.Length, e.Limit)
}
