package heirkeep

import (
	"time"

	"github.com/heirkeep/heirkeep/ledger"
	"github.com/heirkeep/heirkeep/schema"
)

const (
	watcherMinBackoff = time.Second
	watcherMaxBackoff = time.Minute
)

// runWatcher mirrors on-ledger liveness signals into the cache so users who
// beat directly against the ledger (ping, deposit, withdraw) stay monitored
// without ever touching the relay. Reconnects with exponential backoff.
func (h *Heirkeep) runWatcher() {
	backoff := watcherMinBackoff
	for {
		select {
		case <-h.runCtx.Done():
			return
		default:
		}

		ch, err := h.backend.SubscribeEvents(h.runCtx)
		if err != nil {
			log.Error("h.backend.SubscribeEvents(ctx)", "err", err, "retryIn", backoff)
			select {
			case <-h.runCtx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > watcherMaxBackoff {
				backoff = watcherMaxBackoff
			}
			continue
		}
		backoff = watcherMinBackoff

		for ev := range ch {
			h.applyLedgerEvent(ev)
		}
		// subscription ended, resubscribe unless shutting down
	}
}

// applyLedgerEvent upserts the cache row for liveness and period-change
// signals. The resulting record is identical to one written by the relay.
func (h *Heirkeep) applyLedgerEvent(ev ledger.Event) {
	switch ev.Kind {
	case ledger.EventRegistered, ledger.EventHeartbeat, ledger.EventPeriodUpdated:
	default:
		return
	}

	addr := toLower(ev.User)
	now := time.Now().UnixMilli()
	rec, err := h.store.LoadHeartbeat(addr)
	if err != nil {
		rec.Address = addr
		rec.CreatedAt = now
	}

	switch ev.Kind {
	case ledger.EventRegistered:
		rec.LastSeen = ev.Time * 1000
		rec.InactivityPeriod = ev.Period
	case ledger.EventHeartbeat:
		seen := ev.Time * 1000
		if seen > rec.LastSeen {
			rec.LastSeen = seen
		}
		if rec.InactivityPeriod == 0 {
			rec.InactivityPeriod = ev.Period
		}
	case ledger.EventPeriodUpdated:
		rec.InactivityPeriod = ev.Period
	}
	rec.UpdatedAt = now

	if err := h.store.SaveHeartbeat(rec); err != nil {
		log.Error("h.store.SaveHeartbeat(rec)", "err", err, "addr", addr, "event", ev.Kind)
	}
}

// runVaultRecorder persists the attached vault's credit and claim events.
func (h *Heirkeep) runVaultRecorder() {
	sub := h.vault.Feed().Subscribe()
	defer h.vault.Feed().Unsubscribe(sub)
	for {
		select {
		case <-h.runCtx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			h.recordVaultEvent(ev)
		}
	}
}

func (h *Heirkeep) recordVaultEvent(ev ledger.Event) {
	switch ev.Kind {
	case ledger.EventDeposited, ledger.EventClaimed:
	default:
		return
	}
	rec := schema.VaultEventRecord{
		Kind:        ev.Kind,
		Beneficiary: toLower(ev.User),
		Token:       toLower(ev.Token),
		Amount:      ev.Amount.String(),
	}
	if ev.Kind == ledger.EventDeposited {
		rec.Depositor = toLower(ev.From)
	}
	if err := h.wdb.InsertVaultEvent(rec); err != nil {
		log.Error("h.wdb.InsertVaultEvent(rec)", "err", err, "beneficiary", rec.Beneficiary, "kind", rec.Kind)
	}
}
