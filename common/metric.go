package common

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var log = NewLog("common")

var (
	HeartbeatCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heirkeep_heartbeats_total",
		Help: "Relayed heartbeats by verification outcome.",
	}, []string{"outcome"})

	ScanCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "heirkeep_scan_passes_total",
		Help: "Completed inactivity scan passes.",
	})

	LiquidationCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heirkeep_liquidations_total",
		Help: "Per-token liquidation attempts by outcome.",
	}, []string{"outcome"})
)

func NewMetricServer() {
	port := ":9000"
	log.Info("Starting metric server", "listen", port)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(port, nil); err != nil {
			panic(err)
		}
	}()
}
