package domain

import "strings"

// Delivery statuses
const (
	DeliveryPending   = "pending"
	DeliverySent      = "sent"
	DeliveryDelivered = "delivered"
	DeliveryRead      = "read"
	DeliveryPlayed    = "played"
	DeliveryError     = "error"
)

// A failure overrides pending and sent, never a confirmed delivery.
var deliveryRank = map[string]int{
	DeliveryPending:   1,
	DeliverySent:      2,
	DeliveryError:     3,
	DeliveryDelivered: 4,
	DeliveryRead:      5,
	DeliveryPlayed:    6,
}

// DeliveryRank orders delivery statuses; a stored status only moves to a higher rank.
func DeliveryRank(status string) int {
	return deliveryRank[status]
}

// NormalizeDeliveryStatus maps gateway ack codes and names to a delivery status.
// Unknown values yield "".
func NormalizeDeliveryStatus(raw string) string {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "0", "PENDING", "CLOCK":
		return DeliveryPending
	case "1", "SERVER_ACK", "SENT":
		return DeliverySent
	case "2", "DELIVERY_ACK", "DELIVERED", "RECEIVED":
		return DeliveryDelivered
	case "3", "READ", "READ_SELF", "SEEN":
		return DeliveryRead
	case "4", "PLAYED":
		return DeliveryPlayed
	case "-1", "ERROR", "FAILED":
		return DeliveryError
	}
	return ""
}
