package client

import (
	"github.com/programandonocosmos/cashtools-api/enrollment"
	"github.com/programandonocosmos/cashtools-api/interfaces"
)

// State is the facade state. It is one of Unauthenticated, CodeRequested
// or Authenticated.
type State interface {
	isState()
}

// Unauthenticated is the initial state, and the state after a certificate
// has been issued.
type Unauthenticated struct{}

// CodeRequested holds the challenge of an enrollment awaiting its one-time code.
type CodeRequested struct {
	Pending *enrollment.PendingEnrollment
}

// Authenticated holds an established session.
type Authenticated struct {
	Session *interfaces.AuthSession
}

func (Unauthenticated) isState() {}
func (CodeRequested) isState()   {}
func (Authenticated) isState()   {}

// Event is the outcome of a successful facade operation.
type Event interface {
	isEvent()
}

// CodeIssued reports that the provider sent a one-time code.
type CodeIssued struct {
	Pending *enrollment.PendingEnrollment
}

// CertificateIssued reports that an identity archive was written to Location.
type CertificateIssued struct {
	Location string
}

// SessionEstablished reports a successful login.
type SessionEstablished struct {
	Session *interfaces.AuthSession
}

func (CodeIssued) isEvent()         {}
func (CertificateIssued) isEvent()  {}
func (SessionEstablished) isEvent() {}

// Transition returns the state following s after e. It never mutates s.
//
//	any            --SessionEstablished--> Authenticated
//	any            --CodeIssued----------> CodeRequested (replacing a previous challenge)
//	CodeRequested  --CertificateIssued---> Unauthenticated
//
// A CertificateIssued event outside CodeRequested leaves the state unchanged.
func Transition(s State, e Event) State {
	if s == nil {
		s = Unauthenticated{}
	}

	switch e := e.(type) {
	case SessionEstablished:
		return Authenticated{Session: e.Session}
	case CodeIssued:
		return CodeRequested{Pending: e.Pending}
	case CertificateIssued:
		if _, ok := s.(CodeRequested); ok {
			return Unauthenticated{}
		}
	}
	return s
}
