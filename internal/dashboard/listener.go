package dashboard

import "github.com/bivalvia/sensor-relay/internal/model"

// CloseInfo describes why a connection ended.
type CloseInfo struct {
	Code   int
	Reason string
}

// Listener observes a transport. A transport holds exactly one Listener.
type Listener interface {
	OnConnected()
	OnDisconnected(info CloseInfo)
	OnError(err error)
	OnData(r model.Reading)
}

// ListenerFuncs adapts optional functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Connected    func()
	Disconnected func(CloseInfo)
	Error        func(error)
	Data         func(model.Reading)
}

func (f ListenerFuncs) OnConnected() {
	if f.Connected != nil {
		f.Connected()
	}
}

func (f ListenerFuncs) OnDisconnected(info CloseInfo) {
	if f.Disconnected != nil {
		f.Disconnected(info)
	}
}

func (f ListenerFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

func (f ListenerFuncs) OnData(r model.Reading) {
	if f.Data != nil {
		f.Data(r)
	}
}
