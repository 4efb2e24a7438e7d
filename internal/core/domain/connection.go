package domain

import "time"

// HubName identifies one logical server-side hub.
type HubName string

const (
	HubNotifications HubName = "notifications"
	HubTickets       HubName = "tickets"
)

// ConnectionState is the lifecycle state of a single hub connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

// String returns the lower-case state name.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ConnectionStatus is the value exposed to UI consumers. It adds "error"
// on top of the state machine for a connect attempt that exhausted every
// transport candidate.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusReconnecting ConnectionStatus = "reconnecting"
	StatusError        ConnectionStatus = "error"
)

// StatusFor derives the UI status from a state and whether the last
// connect attempt failed outright.
func StatusFor(state ConnectionState, failed bool) ConnectionStatus {
	switch state {
	case StateConnecting:
		return StatusConnecting
	case StateConnected:
		return StatusConnected
	case StateReconnecting:
		return StatusReconnecting
	default:
		if failed {
			return StatusError
		}
		return StatusDisconnected
	}
}

// StateChange is the payload of EventConnectionStateChanged.
type StateChange struct {
	Hub      HubName         `json:"hub"`
	Previous ConnectionState `json:"previous"`
	Current  ConnectionState `json:"current"`
	// Status is the UI status of the hub after the transition.
	Status ConnectionStatus `json:"status"`
	// Err is the cause of a drop or failed connect, if any.
	Err error     `json:"-"`
	At  time.Time `json:"at"`
}

// CombineStatus folds per-hub statuses into one indicator value. Any error
// wins, then reconnecting, connecting and disconnected; the result is
// connected only when every hub is.
func CombineStatus(statuses ...ConnectionStatus) ConnectionStatus {
	if len(statuses) == 0 {
		return StatusDisconnected
	}
	rank := map[ConnectionStatus]int{
		StatusConnected:    0,
		StatusDisconnected: 1,
		StatusConnecting:   2,
		StatusReconnecting: 3,
		StatusError:        4,
	}
	worst := StatusConnected
	for _, s := range statuses {
		if rank[s] > rank[worst] {
			worst = s
		}
	}
	return worst
}
