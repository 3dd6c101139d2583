package domain

// Inbound realtime events.
const (
	EventLocationUpdate = "contractor:location-update"
	EventTaskSubscribe  = "task:subscribe"
	EventPing           = "ping"
	EventRoomInfo       = "debug:room-info"
	EventNotifyAck      = "notification:ack"
)

// Outbound realtime events.
const (
	EventConnEstablished = "connection:established"
	EventConnError       = "connection:error"
	EventLocationUpdated = "contractor:location-updated"
	EventError           = "error"
	EventPong            = "pong"
	EventTaskSubscribed  = "task:subscribed"
	EventTaskNew         = "task:new"
	EventTaskAssigned    = "task:assigned"
	EventTaskClaimed     = "task:claimed"
	EventTaskUpdated     = "task:updated"
	EventTaskCompleted   = "task:completed"
	EventTaskCancelled   = "task:cancelled"
	EventNotifySystem    = "notification:system"
	EventNotifyPersonal  = "notification:personal"
)

// Stable error codes carried by the outbound error event.
const (
	CodeInvalidLocation      = "INVALID_LOCATION"
	CodeLocationUpdateFailed = "LOCATION_UPDATE_FAILED"
	CodeSubscriptionFailed   = "SUBSCRIPTION_FAILED"
	CodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
)
