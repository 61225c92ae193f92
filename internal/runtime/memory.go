package runtime

import "errors"

var errNoMemory = errors.New("module has no linear memory")

// Memory is the part of a sandbox's linear memory the bridge touches.
// wazero's api.Memory satisfies it.
type Memory interface {
	Size() uint32
	Read(offset, byteCount uint32) ([]byte, bool)
	Write(offset uint32, v []byte) bool
}

// checkRange validates a (ptr, len) pair coming from the sandbox against the
// current memory size.
func checkRange(mem Memory, ptr, length int64) error {
	if mem == nil {
		return errNoMemory
	}
	size := uint64(mem.Size())
	if ptr < 0 || length < 0 || uint64(ptr)+uint64(length) > size {
		return &MemoryAccessError{Ptr: ptr, Length: length, Limit: size}
	}
	return nil
}

// readMemory copies length bytes out of the sandbox.
func readMemory(mem Memory, ptr, length int64) ([]byte, error) {
	if err := checkRange(mem, ptr, length); err != nil {
		return nil, err
	}
	data, ok := mem.Read(uint32(ptr), uint32(length))
	if !ok {
		return nil, &MemoryAccessError{Ptr: ptr, Length: length, Limit: uint64(mem.Size())}
	}
	return append([]byte(nil), data...), nil
}

// writeMemory copies the first length bytes of src into the sandbox. Asking
// for more than src holds is an error, never a short copy.
func writeMemory(mem Memory, ptr, length int64, src []byte) error {
	if length < 0 || length > int64(len(src)) {
		return &MemoryAccessError{Ptr: ptr, Length: length, Limit: uint64(len(src))}
	}
	if err := checkRange(mem, ptr, length); err != nil {
		return err
	}
	if !mem.Write(uint32(ptr), src[:length]) {
		return &MemoryAccessError{Ptr: ptr, Length: length, Limit: uint64(mem.Size())}
	}
	return nil
}
