package domain

// EventName identifies an in-process event fanned out by the dispatcher.
type EventName string

const (
	EventNotificationReceived   EventName = "notificationReceived"
	EventUnreadCountUpdated     EventName = "unreadCountUpdated"
	EventTicketCreated          EventName = "ticketCreated"
	EventTicketUpdated          EventName = "ticketUpdated"
	EventConnectionStateChanged EventName = "connectionStateChanged"
)

// Server-to-client invocation targets, as named by the hubs.
const (
	TargetReceiveNotification = "ReceiveNotification"
	TargetUnreadCountUpdated  = "UnreadCountUpdated"
	TargetNewTicket           = "NewTicket"
	TargetTicketUpdated       = "TicketUpdated"
)

// HubSpec describes one hub: where it lives and which server targets it
// forwards to which local events.
type HubSpec struct {
	Name       HubName
	Candidates []TransportCandidate
	Targets    map[string]EventName
}

// NotificationTargets maps the notifications hub invocations.
func NotificationTargets() map[string]EventName {
	return map[string]EventName{
		TargetReceiveNotification: EventNotificationReceived,
		TargetUnreadCountUpdated:  EventUnreadCountUpdated,
	}
}

// TicketTargets maps the tickets hub invocations.
func TicketTargets() map[string]EventName {
	return map[string]EventName{
		TargetNewTicket:     EventTicketCreated,
		TargetTicketUpdated: EventTicketUpdated,
	}
}
