//go:build linux || darwin

package handshake

import (
	"unsafe"
)

// FDInterrupter wakes blocking calls that park on file-descriptor readiness
// (e.g. unix.Poll, unix.Select, or a blocking read). Interrupt writes to a
// wake descriptor; the blocking code includes FD() in its poll set and
// returns [ErrInterruptedBlocker] when it becomes readable.
//
// Backed by an eventfd on Linux and a non-blocking self-pipe on Darwin.
type FDInterrupter struct {
	readFd  int
	writeFd int
	buf     [8]byte
}

// NewFDInterrupter creates a file-descriptor-based interrupter. The caller
// owns the descriptors and must Close the interrupter when done.
func NewFDInterrupter() (*FDInterrupter, error) {
	readFd, writeFd, err := createWakeFd(0, efdCloexec|efdNonblock)
	if err != nil {
		return nil, err
	}
	return &FDInterrupter{readFd: readFd, writeFd: writeFd}, nil
}

// FD returns the descriptor the blocking call should include in its poll
// set; it becomes readable when Interrupt fires.
func (x *FDInterrupter) FD() int {
	return x.readFd
}

// Interrupt implements [Interrupter].
func (x *FDInterrupter) Interrupt(*Worker) {
	// PERFORMANCE: Native endianness, no binary.LittleEndian overhead.
	var one uint64 = 1
	buf := (*[8]byte)(unsafe.Pointer(&one))[:]
	// Write errors (e.g. a closed pipe during teardown) are expected;
	// callers retry their blocking call regardless.
	_, _ = writeFD(x.writeFd, buf)
}

// ResetInterrupted implements [Interrupter]: drains the wake descriptor
// without blocking.
func (x *FDInterrupter) ResetInterrupted() {
	for {
		if _, err := readFD(x.readFd, x.buf[:]); err != nil {
			break
		}
	}
}

// Close releases the wake descriptor(s).
func (x *FDInterrupter) Close() error {
	err := closeFD(x.readFd)
	if x.writeFd != x.readFd {
		if cerr := closeFD(x.writeFd); err == nil {
			err = cerr
		}
	}
	return err
}
