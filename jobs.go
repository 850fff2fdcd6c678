package heirkeep

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	hcommon "github.com/heirkeep/heirkeep/common"
	"github.com/heirkeep/heirkeep/schema"
	"github.com/panjf2000/ants/v2"
)

func (h *Heirkeep) runJobs() {
	interval := int(h.config.GetScanInterval() / time.Second)
	h.scheduler.Every(interval).Seconds().SingletonMode().Do(h.scanInactive)
	h.scheduler.StartAsync()
}

// scanInactive is one scheduler tick. SingletonMode keeps ticks from
// overlapping; tryScan additionally fences ticks off from manual triggers.
func (h *Heirkeep) scanInactive() {
	report, ok := h.tryScan()
	if !ok || report == nil {
		return
	}
	if len(report.Results) > 0 {
		log.Info("scan pass finished", "batchId", report.BatchId, "candidates", report.Candidates, "results", len(report.Results))
	}
}

// tryScan runs one scan pass under the single-flight guard.
func (h *Heirkeep) tryScan() (*schema.BatchReport, bool) {
	if !h.scanFlight.TryLock() {
		return nil, false
	}
	defer h.scanFlight.Unlock()
	return h.runScanPass(h.runCtx), true
}

// runScanPass selects cache records past their deadline and settles them with
// bounded concurrency. Results are durably recorded and exported.
func (h *Heirkeep) runScanPass(ctx context.Context) *schema.BatchReport {
	recs, err := h.store.LoadAllHeartbeats()
	if err != nil {
		log.Error("h.store.LoadAllHeartbeats()", "err", err)
		return nil
	}

	now := time.Now()
	candidates := make([]schema.HeartbeatRecord, 0)
	for _, rec := range recs {
		if now.After(rec.Deadline()) {
			candidates = append(candidates, rec)
		}
	}

	report := &schema.BatchReport{
		BatchId:    uuid.NewString(),
		StartedAt:  now,
		Candidates: len(candidates),
	}
	if len(candidates) == 0 {
		hcommon.ScanCounter.Inc()
		report.FinishedAt = time.Now()
		return report
	}
	log.Debug("scan pass found candidates", "number", len(candidates))

	var mu sync.Mutex
	var wg sync.WaitGroup
	p, _ := ants.NewPoolWithFunc(schema.DefaultScanConcurrency, func(i interface{}) {
		defer wg.Done()
		rec := i.(schema.HeartbeatRecord)
		results := h.processCandidate(ctx, rec)
		if len(results) == 0 {
			return
		}
		mu.Lock()
		report.Results = append(report.Results, results...)
		mu.Unlock()
	})
	defer p.Release()

	for _, rec := range candidates {
		wg.Add(1)
		_ = p.Invoke(rec)
	}
	wg.Wait()
	report.FinishedAt = time.Now()

	if err := h.wdb.InsertLiquidations(report.BatchId, report.Results); err != nil {
		log.Error("h.wdb.InsertLiquidations(report)", "err", err, "batchId", report.BatchId)
	}
	h.sendReport(report)
	hcommon.ScanCounter.Inc()
	return report
}
