package core

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Conversly/whatsapp-gateway/internal/loaders"
	"github.com/Conversly/whatsapp-gateway/internal/utils"
)

type messageSaver struct {
	db            MessageWriter
	ch            chan loaders.MessageRow
	batchSize     int
	flushInterval time.Duration
	stopCh        chan struct{}
	stoppedCh     chan struct{}
	stopOnce      sync.Once
}

var (
	msgSaver     *messageSaver
	msgSaverOnce sync.Once
)

const (
	defaultMsgBatchSize    = 1000
	defaultFlushInterval   = 500 * time.Millisecond
	defaultChannelCapacity = 10000
)

func newMessageSaver(db MessageWriter, batchSize, capacity int, flushInterval time.Duration) *messageSaver {
	w := &messageSaver{
		db:            db,
		ch:            make(chan loaders.MessageRow, capacity),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
		stoppedCh:     make(chan struct{}),
	}
	go w.run()
	return w
}

func initMessageSaver(db MessageWriter) {
	msgSaverOnce.Do(func() {
		msgSaver = newMessageSaver(db, defaultMsgBatchSize, defaultChannelCapacity, defaultFlushInterval)
	})
}

func (w *messageSaver) run() {
	defer close(w.stoppedCh)
	batch := make([]loaders.MessageRow, 0, w.batchSize)
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.db.BatchInsertMessages(ctx, batch); err != nil {
			utils.Zlog.Error("Failed to batch insert messages", zap.Error(err), zap.Int("count", len(batch)))
			// Best-effort: retry once
			if err2 := w.db.BatchInsertMessages(ctx, batch); err2 != nil {
				utils.Zlog.Error("Retry failed for batch insert messages", zap.Error(err2), zap.Int("count", len(batch)))
			}
		}
		batch = make([]loaders.MessageRow, 0, w.batchSize)
	}

	for {
		select {
		case row := <-w.ch:
			batch = append(batch, row)
			if len(batch) >= w.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.stopCh:
			// Drain channel
			for {
				select {
				case row := <-w.ch:
					batch = append(batch, row)
					if len(batch) >= w.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (w *messageSaver) stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.stoppedCh
}

func (w *messageSaver) enqueue(records []MessageRecord) {
	for _, r := range records {
		row := toRow(r)
		select {
		case w.ch <- row:
			// enqueued
		default:
			// queue full: fallback to direct insert asynchronously
			go func(r loaders.MessageRow) {
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				if err := w.db.BatchInsertMessages(ctx, []loaders.MessageRow{r}); err != nil {
					utils.Zlog.Error("Direct message insert failed", zap.String("message_id", r.ID), zap.Error(err))
				}
			}(row)
		}
	}
}

// StopMessageSaver gracefully stops the message saver
func StopMessageSaver() {
	if msgSaver == nil {
		return
	}
	msgSaver.stop()
}

// SaveConversationMessagesBackground saves messages asynchronously via batch insert
func SaveConversationMessagesBackground(db MessageWriter, records ...MessageRecord) {
	if db == nil {
		return
	}
	initMessageSaver(db)
	msgSaver.enqueue(records)
}

func toRow(r MessageRecord) loaders.MessageRow {
	id := r.MessageUID
	if id == "" {
		id = uuid.NewString()
	}
	channel := r.Channel
	if channel == "" {
		channel = ChannelWhatsApp
	}
	return loaders.MessageRow{
		ID:              id,
		BufferKey:       r.BufferKey,
		Phone:           r.Phone,
		Role:            strings.ToLower(r.Role),
		Content:         r.Message,
		Agent:           r.Agent,
		Channel:         string(channel),
		ChannelMetadata: r.ChannelMetadata,
		CreatedAt:       time.Now().UTC(),
	}
}
