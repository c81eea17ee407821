package model

import "time"

// Packet is a catalogue entry for a prepaid pool of generation units.
type Packet struct {
	ID         string
	Name       string
	Class      ResourceClass
	Units      int64
	Price      int64 // minor units
	Currency   string
	StarsPrice int64
	Visible    bool
}

// PrepaidBalance is a purchased packet owned by a user.
// Remaining only decreases and never drops below zero.
type PrepaidBalance struct {
	ID          string
	UserID      string
	PacketID    string
	Class       ResourceClass
	Remaining   int64
	PurchasedAt time.Time
}

func (b *PrepaidBalance) CanCover(cost int64) bool {
	return b != nil && cost > 0 && b.Remaining >= cost
}
