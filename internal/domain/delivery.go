package domain

type DeliveryStatus string

const (
	DeliveryStatusDelivered        DeliveryStatus = "delivered"
	DeliveryStatusBuyerUnreachable DeliveryStatus = "buyer_unreachable"
	DeliveryStatusError            DeliveryStatus = "error"
)

// DeliveryResult is reported by whoever transmits items to the buyer.
type DeliveryResult struct {
	Status DeliveryStatus
	Detail string
}

func Delivered() DeliveryResult {
	return DeliveryResult{Status: DeliveryStatusDelivered}
}

func BuyerUnreachable(detail string) DeliveryResult {
	return DeliveryResult{Status: DeliveryStatusBuyerUnreachable, Detail: detail}
}

func DeliveryFailed(detail string) DeliveryResult {
	return DeliveryResult{Status: DeliveryStatusError, Detail: detail}
}
