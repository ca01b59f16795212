package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/kbyunghoon/ticket-service/internal/broker"
	"github.com/kbyunghoon/ticket-service/internal/store"
)

// Archiver drains the DLQ topic into the archive store so dead letters
// survive broker retention and can be queried over HTTP.
type Archiver struct {
	source  broker.Consumer
	archive store.Store
}

func NewArchiver(source broker.Consumer, archive store.Store) *Archiver {
	return &Archiver{source: source, archive: archive}
}

// Run consumes until the context is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	for {
		m, err := a.source.Fetch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, broker.ErrClosed) {
				return nil
			}
			return err
		}
		a.handle(ctx, m)
	}
}

func (a *Archiver) handle(ctx context.Context, m broker.Message) {
	var rec Record
	if err := json.Unmarshal(m.Value, &rec); err != nil {
		// An undecodable DLQ entry has nowhere further to go; keep the
		// raw bytes and move on.
		log.Printf("archiver: undecodable dead letter: %v", err)
		a.save(ctx, m, store.DeadLetter{
			Token:         string(m.Key),
			FailureReason: "undecodable dead-letter record",
			Payload:       m.Value,
		})
		return
	}

	a.save(ctx, m, store.DeadLetter{
		Token:         rec.FailureInfo.Token,
		OriginalTopic: rec.Metadata.OriginalTopic,
		FailureReason: rec.FailureInfo.FailureReason,
		ExceptionType: rec.FailureInfo.ExceptionType,
		RetryCount:    rec.FailureInfo.RetryCount,
		Payload:       rec.OriginalMessage,
		FailedAt:      rec.FailureInfo.FailureTimestamp,
	})
}

// save commits the DLQ offset only once the row is durable, so an
// archive outage leads to redelivery rather than loss.
func (a *Archiver) save(ctx context.Context, m broker.Message, dl store.DeadLetter) {
	if err := a.archive.SaveDeadLetter(ctx, dl); err != nil {
		log.Printf("archiver: save dead letter %s: %v", dl.Token, err)
		return
	}
	if err := a.source.Commit(ctx, m); err != nil {
		log.Printf("archiver: commit: %v", err)
		return
	}
	log.Printf("archiver: archived dead letter %s (retries %d)", dl.Token, dl.RetryCount)
}
