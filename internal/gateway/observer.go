package gateway

import "time"

// Observer receives connection lifecycle notifications. Methods are called
// on the client loop and must return quickly; they must not call back into
// blocking Client methods.
type Observer interface {
	StatusChanged(status Status)
	FrameReceived(op Opcode)
	HeartbeatAcked(ping time.Duration)
	Closed(code CloseCode, resume bool)
}

// NopObserver implements Observer with no-ops. Embed it to implement only
// the notifications of interest.
type NopObserver struct{}

func (NopObserver) StatusChanged(Status)          {}
func (NopObserver) FrameReceived(Opcode)          {}
func (NopObserver) HeartbeatAcked(time.Duration)  {}
func (NopObserver) Closed(code CloseCode, _ bool) {}
