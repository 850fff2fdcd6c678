package heirkeep

import (
	"context"
	"encoding/json"

	"github.com/heirkeep/heirkeep/schema"
	"github.com/segmentio/kafka-go"
)

const (
	LiquidationTopic = "heirkeep_liquidation"
)

type KWriter struct {
	w *kafka.Writer
}

func NewKWriter(topic string, uri string) (*KWriter, error) {
	w := &kafka.Writer{
		Addr:     kafka.TCP(uri),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}

	return &KWriter{
		w: w,
	}, nil
}

func (kw *KWriter) Write(body []byte) error {
	err := kw.w.WriteMessages(
		context.Background(),
		kafka.Message{
			Value: body,
		},
	)
	return err
}

func (kw *KWriter) Close() {
	kw.w.Close()
}

// sendReport exports the batch report when a broker is configured.
func (h *Heirkeep) sendReport(report *schema.BatchReport) {
	if h.kw == nil || len(report.Results) == 0 {
		return
	}
	body, err := json.Marshal(report)
	if err != nil {
		log.Error("json.Marshal(report)", "err", err, "batchId", report.BatchId)
		return
	}
	if err := h.kw.Write(body); err != nil {
		log.Error("h.kw.Write(body)", "err", err, "batchId", report.BatchId)
	}
}
