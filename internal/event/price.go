package event

import (
	"fmt"
	"time"
)

// PriceTick is an external reference price observation for a contract,
// typically carried in over the price feed.
type PriceTick struct {
	Contract   string
	Price      int64 // Fixed-point: price scale
	Source     string
	ObservedAt time.Time
}

func (e *PriceTick) IdempotencyKey() string {
	return fmt.Sprintf("%s:%d:tick", e.Contract, e.ObservedAt.UnixNano())
}

func (e *PriceTick) EventType() EventType {
	return EventTypePriceTick
}

func (e *PriceTick) Symbol() *string {
	return &e.Contract
}
