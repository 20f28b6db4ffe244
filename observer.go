package push

// Observer receives client telemetry. Calls happen on the client's event
// loop and must not block.
type Observer interface {
	FrameSent(signal Signal, size int)
	FrameReceived(signal Signal, size int)
	StateChanged(from, to State)
	ProtocolFailure(err error)
}

type nopObserver struct{}

func (nopObserver) FrameSent(Signal, int)     {}
func (nopObserver) FrameReceived(Signal, int) {}
func (nopObserver) StateChanged(State, State) {}
func (nopObserver) ProtocolFailure(error)     {}
