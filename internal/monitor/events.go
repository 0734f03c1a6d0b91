package monitor

import (
	"time"

	"github.com/srg/heartflot/internal/device"
)

// event is everything the dispatcher consumes: user commands and transport
// callbacks. Transport events carry the generation of the scan or link that
// produced them so late callbacks can be told apart and dropped.
type event interface {
	isEvent()
}

// command events are answered on reply.
type command struct {
	reply chan error
}

func newCommand() command {
	return command{reply: make(chan error, 1)}
}

func (c command) respond(err error) {
	c.reply <- err
}

type (
	startScanCmd struct{ command }
	stopScanCmd  struct{ command }
	connectCmd   struct {
		command
		address string
	}
	disconnectCmd struct{ command }
	recordCmd     struct {
		command
		op recordOp
	}
	overlayCmd struct {
		command
		visible bool
	}
	clearErrorCmd struct{ command }
	shutdownCmd   struct{ command }
)

type recordOp int

const (
	recordToggle recordOp = iota
	recordStart
	recordStop
)

type (
	advertisementEvt struct {
		gen uint64
		adv device.Advertisement
	}
	scanEndedEvt struct {
		gen uint64
		err error
	}
	scanTimeoutEvt struct{ token uint64 }
	linkUpEvt      struct {
		gen  uint64
		link device.Link
	}
	connectFailedEvt struct {
		gen uint64
		err error
	}
	connectTimeoutEvt struct{ token uint64 }
	profileEvt        struct {
		gen     uint64
		profile *device.Profile
		err     error
	}
	subscribedEvt struct {
		gen uint64
		err error
	}
	notificationEvt struct {
		gen     uint64
		payload []byte
		at      time.Time
	}
	linkLostEvt          struct{ gen uint64 }
	staleEvt             struct{ token uint64 }
	persistenceFailedEvt struct{ err error }
)

func (startScanCmd) isEvent()  {}
func (stopScanCmd) isEvent()   {}
func (connectCmd) isEvent()    {}
func (disconnectCmd) isEvent() {}
func (recordCmd) isEvent()     {}
func (overlayCmd) isEvent()    {}
func (clearErrorCmd) isEvent() {}
func (shutdownCmd) isEvent()   {}

func (advertisementEvt) isEvent()     {}
func (scanEndedEvt) isEvent()         {}
func (scanTimeoutEvt) isEvent()       {}
func (linkUpEvt) isEvent()            {}
func (connectFailedEvt) isEvent()     {}
func (connectTimeoutEvt) isEvent()    {}
func (profileEvt) isEvent()           {}
func (subscribedEvt) isEvent()        {}
func (notificationEvt) isEvent()      {}
func (linkLostEvt) isEvent()          {}
func (staleEvt) isEvent()             {}
func (persistenceFailedEvt) isEvent() {}
