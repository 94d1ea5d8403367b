package handshake

// ChannelInterrupter wakes blocking calls that park on a channel select. The
// blocking code includes C() in its select and returns
// [ErrInterruptedBlocker] when that case fires:
//
//	intr := handshake.NewChannelInterrupter()
//	err := sp.SetBlocked(loc, intr, func(arg any) error {
//	    select {
//	    case v := <-workCh:
//	        // ...
//	        return nil
//	    case <-intr.C():
//	        return handshake.ErrInterruptedBlocker
//	    }
//	}, nil, nil, nil)
//
// The signal is level-triggered with a capacity of one: repeated Interrupt
// calls coalesce, and ResetInterrupted drains without blocking.
type ChannelInterrupter struct {
	ch chan struct{}
}

// NewChannelInterrupter creates a channel-based interrupter.
func NewChannelInterrupter() *ChannelInterrupter {
	return &ChannelInterrupter{ch: make(chan struct{}, 1)}
}

// C returns the channel the blocking call should select on.
func (x *ChannelInterrupter) C() <-chan struct{} {
	return x.ch
}

// Interrupt implements [Interrupter].
func (x *ChannelInterrupter) Interrupt(*Worker) {
	select {
	case x.ch <- struct{}{}:
	default:
	}
}

// ResetInterrupted implements [Interrupter].
func (x *ChannelInterrupter) ResetInterrupted() {
	select {
	case <-x.ch:
	default:
	}
}
