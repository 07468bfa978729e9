package domain

import "time"

// MaxScore is the upper bound of an item's rarity score.
const MaxScore = 500

// ItemStatus tracks where an item sits in the sale/resale lifecycle.
type ItemStatus string

const (
	ItemStatusAvailable ItemStatus = "available"
	// Reserved holds an item mid-checkout so nobody else can buy it.
	ItemStatusReserved ItemStatus = "reserved"
	ItemStatusSold     ItemStatus = "sold"
	ItemStatusListed   ItemStatus = "listed"
	// Auctioned belongs to the timed-auction flow, which runs outside this
	// service. Stored rows may carry the value; no operation here sets it.
	ItemStatusAuctioned ItemStatus = "auctioned"
)

// Item is one sellable collectible. Score is immutable once assigned;
// status, owner and the price snapshot change on sale and transfer.
type Item struct {
	ID            string
	TokenIndex    int // position in the fixed catalog
	Score         int // 0..MaxScore
	Status        ItemStatus
	OwnerRef      *string
	PriceSnapshot *Cents // last computed price; cache, not authoritative
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OwnedBy reports whether the item currently belongs to the given party.
func (i Item) OwnedBy(ref string) bool {
	return i.OwnerRef != nil && *i.OwnerRef == ref
}
