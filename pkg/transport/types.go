// Package transport carries hello traffic between routers. It implements the
// interest/data exchange the prober relies on: every expressed interest gets
// exactly one outcome (data, nack, or timeout), delivered through the
// configured post function so handlers stay serialized on the daemon loop.
package transport

import (
	"time"

	"github.com/ryandielhenn/zephyrroute/pkg/name"
)

// Interest is an outbound probe: a named request with a lifetime after which
// the transport reports a timeout.
type Interest struct {
	Name     name.Name
	Lifetime time.Duration
	Nonce    uint64
}

// Data is a named, signed reply to an interest.
type Data struct {
	Name            name.Name
	FreshnessPeriod time.Duration
	Content         []byte
	Signature       []byte
}

// Nack reasons reported to the onNack outcome callback.
const (
	NackNoRoute   = "no-route"
	NackSendError = "send-error"
)

// Handler consumes an inbound interest matched to a registered prefix.
type Handler func(name.Name, *Interest)

// DataCache lets the transport satisfy repeated interests from recently
// produced data without waking the responder.
type DataCache interface {
	Insert(*Data)
	Find(prefix name.Name) (*Data, bool)
}

type pendingInterest struct {
	interest  *Interest
	timer     *time.Timer
	onData    func(*Interest, *Data)
	onNack    func(*Interest, string)
	onTimeout func(*Interest)
}

type handlerEntry struct {
	prefix name.Name
	h      Handler
}
