package ledger

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

const (
	EventRegistered         = "Registered"
	EventHeartbeat          = "Heartbeat"
	EventPeriodUpdated      = "PeriodUpdated"
	EventBeneficiaryUpdated = "BeneficiaryUpdated"
	EventDeposited          = "Deposited"
	EventWithdrawn          = "Withdrawn"
	EventLiquidated         = "Liquidated"
)

// Event is a ledger state-change signal, the in-process analogue of a
// contract log. The watcher mirrors Heartbeat/PeriodUpdated events into the
// relay cache.
type Event struct {
	Kind   string
	User   common.Address
	From   common.Address // depositor, set for vault credits
	Token  common.Address
	Amount *big.Int
	Time   int64 // unix seconds, set for liveness events
	Period int64 // seconds, set for Registered/PeriodUpdated/Heartbeat
}

// EventFeed fans ledger events out to subscribers. Emission never blocks;
// a subscriber that stops draining loses events rather than stalling the
// ledger.
type EventFeed struct {
	mu   sync.Mutex
	subs []chan Event
}

func NewEventFeed() *EventFeed {
	return &EventFeed{}
}

func (f *EventFeed) Subscribe() <-chan Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan Event, 128)
	f.subs = append(f.subs, ch)
	return ch
}

func (f *EventFeed) Unsubscribe(ch <-chan Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, sub := range f.subs {
		if sub == ch {
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			close(sub)
			return
		}
	}
}

func (f *EventFeed) emit(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		select {
		case sub <- ev:
		default:
		}
	}
}
