package install

// AppState is the lifecycle position of one app within a run.
type AppState uint8

const (
	StatePending AppState = iota + 1
	StateBundleResolved
	StateProofsDecoded
	StateInstallRequested
	StateInstalled
	StateActivationRequested
	StateActive
	StateFailed
)

func (s AppState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateBundleResolved:
		return "bundle_resolved"
	case StateProofsDecoded:
		return "proofs_decoded"
	case StateInstallRequested:
		return "install_requested"
	case StateInstalled:
		return "installed"
	case StateActivationRequested:
		return "activation_requested"
	case StateActive:
		return "active"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseAppState is the inverse of AppState.String.
func ParseAppState(s string) (AppState, bool) {
	for st := StatePending; st <= StateFailed; st++ {
		if st.String() == s {
			return st, true
		}
	}
	return 0, false
}

// Observer is told about every app state transition in order.
type Observer interface {
	AppStateChanged(appID string, state AppState)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(appID string, state AppState)

func (f ObserverFunc) AppStateChanged(appID string, state AppState) { f(appID, state) }

// Observers fans transitions out to each non-nil observer.
type Observers []Observer

func (o Observers) AppStateChanged(appID string, state AppState) {
	for _, obs := range o {
		if obs != nil {
			obs.AppStateChanged(appID, state)
		}
	}
}
