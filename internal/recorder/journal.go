// Package recorder journals executed fills to PostgreSQL. Inserts happen
// on a background goroutine behind a bounded queue, so a slow database
// never stalls the runtime loop.
package recorder

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"github.com/kylebaus/Baus/internal/bus"
	"github.com/kylebaus/Baus/internal/event"
	"github.com/kylebaus/Baus/pkg/conn"
)

const defaultQueueCapacity = 8192

// FillRecord is one executed fill row.
type FillRecord struct {
	ID          uint   `gorm:"primaryKey"`
	Exchange    string `gorm:"size:16;uniqueIndex:idx_fill_source"`
	FillID      string `gorm:"size:64;uniqueIndex:idx_fill_source"`
	Account     string `gorm:"size:64"`
	OrderID     int64  `gorm:"index"`
	Symbol      string `gorm:"size:64"`
	Side        string `gorm:"size:4"`
	Price       float64
	Quantity    float64
	Fee         float64
	FeeCurrency string `gorm:"size:16"`
	FilledAt    time.Time
	CreatedAt   time.Time
}

func (FillRecord) TableName() string { return "fills" }

// Journal persists fills observed by the dispatcher.
type Journal struct {
	client *conn.Client
	queue  *bus.Queue[event.Fill]
}

// NewJournal migrates the fills table and returns a journal ready to run.
func NewJournal(client *conn.Client) (*Journal, error) {
	if err := client.DB().AutoMigrate(&FillRecord{}); err != nil {
		return nil, errors.Wrap(err, "migrate fills table")
	}
	return &Journal{
		client: client,
		queue:  bus.NewQueue[event.Fill](defaultQueueCapacity),
	}, nil
}

// Record enqueues a fill for insertion. It never blocks; when the queue is
// full the fill is logged and dropped rather than stalling the caller.
func (j *Journal) Record(fill event.Fill) {
	if err := j.queue.TryPublish(fill); err != nil {
		logs.Errorf("recorder: drop fill %s: %+v", fill.FillID, err)
	}
}

func newRecord(fill event.Fill) FillRecord {
	record := FillRecord{
		Exchange:    fill.Account.Exchange.String(),
		FillID:      fill.FillID,
		Account:     fill.Account.Name,
		OrderID:     fill.OrderID,
		Side:        fill.Side.String(),
		Price:       fill.Price,
		Quantity:    fill.Quantity,
		Fee:         fill.Fee,
		FeeCurrency: fill.FeeCurrency,
		FilledAt:    fill.Timestamp,
	}
	if fill.Instrument != nil {
		record.Symbol = fill.Instrument.InternalSymbol
	}
	return record
}

// Run inserts queued fills until the context is done.
func (j *Journal) Run(ctx context.Context) {
	j.queue.Run(ctx, func(fill event.Fill) {
		record := newRecord(fill)
		if err := j.client.DB().WithContext(ctx).Create(&record).Error; err != nil {
			logs.Errorf("recorder: insert fill %s: %+v", fill.FillID, err)
		}
	})
}

// Close stops accepting fills and lets Run finish the backlog.
func (j *Journal) Close() {
	j.queue.Close()
}
