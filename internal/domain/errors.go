package domain

import "errors"

var (
	ErrBuyerNotFound     = errors.New("buyer not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrInvalidItem       = errors.New("invalid item")
	ErrDuplicateItem     = errors.New("item already in stock")
	ErrItemNotFound      = errors.New("item not found")
	ErrFetch             = errors.New("transaction feed unavailable")
	ErrTimedOut          = errors.New("purchase timed out")
	ErrCancelled         = errors.New("purchase cancelled")
	ErrBuyerUnreachable  = errors.New("buyer unreachable")
	ErrDelivery          = errors.New("delivery failed")
	ErrOrderNotFound     = errors.New("order not found")
	ErrDuplicateOrderID  = errors.New("order id already exists")
	ErrInvalidOrder      = errors.New("invalid order")
	ErrPurchaseNotFound  = errors.New("purchase not found")
)
