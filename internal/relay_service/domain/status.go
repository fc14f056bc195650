package domain

// DeliveryStatus mirrors the status codes shared with the upstream gateway
// and the outbox table. The numeric values are part of the persisted and
// wire contract and must not be renumbered.
type DeliveryStatus int

const (
	StatusDelivered          DeliveryStatus = 1
	StatusUnDelivered        DeliveryStatus = 2
	StatusAccepted           DeliveryStatus = 3
	StatusRejected           DeliveryStatus = 5
	StatusErrorInSending     DeliveryStatus = 7
	StatusWaitingForSend     DeliveryStatus = 8
	StatusSent               DeliveryStatus = 9
	StatusNotSent            DeliveryStatus = 10
	StatusExpired            DeliveryStatus = 11
	StatusIsSending          DeliveryStatus = 12
	StatusBlackList          DeliveryStatus = 14
	StatusSmsIsFilter        DeliveryStatus = 15
	StatusDeleted            DeliveryStatus = 16
	StatusStored             DeliveryStatus = 29
	StatusUnknown            DeliveryStatus = 32
	StatusEnroute            DeliveryStatus = 33
	StatusUndeliverable      DeliveryStatus = 34
	StatusUnreachableNetwork DeliveryStatus = 36
)

var statusNames = map[DeliveryStatus]string{
	StatusDelivered:          "Delivered",
	StatusUnDelivered:        "UnDelivered",
	StatusAccepted:           "Accepted",
	StatusRejected:           "Rejected",
	StatusErrorInSending:     "ErrorInSending",
	StatusWaitingForSend:     "WaitingForSend",
	StatusSent:               "Sent",
	StatusNotSent:            "NotSent",
	StatusExpired:            "Expired",
	StatusIsSending:          "IsSending",
	StatusBlackList:          "BlackList",
	StatusSmsIsFilter:        "SmsIsFilter",
	StatusDeleted:            "Deleted",
	StatusStored:             "Stored",
	StatusUnknown:            "Unknown",
	StatusEnroute:            "Enroute",
	StatusUndeliverable:      "Undeliverable",
	StatusUnreachableNetwork: "UnreachableNetwork",
}

func (s DeliveryStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "Unknown"
}

// ParseDeliveryStatus maps a status name pushed by the upstream relay
// (webhook path) back to its code. Unrecognized names map to Unknown.
func ParseDeliveryStatus(name string) DeliveryStatus {
	for code, n := range statusNames {
		if n == name {
			return code
		}
	}
	return StatusUnknown
}

// IsTerminal reports whether a message in this status must never be
// re-queued for sending.
func (s DeliveryStatus) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusUnDelivered, StatusRejected, StatusExpired:
		return true
	}
	return false
}
