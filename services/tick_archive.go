package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Archive constants
const (
	ArchiveDBName        = "stock_dashboard"
	ArchiveCollection    = "ticks"
	ArchiveQueueSize     = 4096
	ArchiveBatchSize     = 100
	ArchiveFlushInterval = 5 * time.Second
	ArchiveWriteTimeout  = 10 * time.Second
)

// ArchivedTick is one raw trade stored for offline analysis
type ArchivedTick struct {
	Symbol     string    `bson:"symbol"`
	Price      float64   `bson:"price"`
	Volume     float64   `bson:"volume"`
	TradedAt   time.Time `bson:"traded_at"`
	ArchivedAt time.Time `bson:"archived_at"`
}

// TickArchive streams raw feed trades into MongoDB in batches. The archive is
// optional: with no URI configured every Record call is a cheap no-op. Writes
// go through a bounded queue so a slow or unreachable archive never blocks
// trade ingestion; overflow ticks are dropped and counted.
type TickArchive struct {
	client     *mongo.Client
	collection *mongo.Collection
	queue      chan ArchivedTick
	done       chan struct{}
	wg         sync.WaitGroup

	mu      sync.Mutex
	dropped int64
	enabled bool
}

// NewTickArchive connects to MongoDB and starts the batch writer. An empty
// URI returns a disabled archive and no error.
func NewTickArchive(uri string) (*TickArchive, error) {
	a := &TickArchive{
		queue: make(chan ArchivedTick, ArchiveQueueSize),
		done:  make(chan struct{}),
	}
	if uri == "" {
		log.Println("Tick archive disabled: no MongoDB URI configured")
		return a, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(10).
		SetMinPoolSize(2).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(30 * time.Second).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	a.client = client
	a.collection = client.Database(ArchiveDBName).Collection(ArchiveCollection)
	a.enabled = true

	a.wg.Add(1)
	go a.writeLoop()

	log.Println("Tick archive connected")
	return a, nil
}

// Enabled reports whether the archive is actually writing
func (a *TickArchive) Enabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

// Dropped returns how many ticks were discarded due to queue overflow
func (a *TickArchive) Dropped() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// Record enqueues one trade for archival. Never blocks.
func (a *TickArchive) Record(symbol string, price, volume float64, tradedAt time.Time) {
	if !a.Enabled() {
		return
	}

	tick := ArchivedTick{
		Symbol:     symbol,
		Price:      price,
		Volume:     volume,
		TradedAt:   tradedAt,
		ArchivedAt: time.Now(),
	}
	select {
	case a.queue <- tick:
	default:
		a.mu.Lock()
		a.dropped++
		a.mu.Unlock()
	}
}

// writeLoop drains the queue into InsertMany batches
func (a *TickArchive) writeLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(ArchiveFlushInterval)
	defer ticker.Stop()

	batch := make([]interface{}, 0, ArchiveBatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), ArchiveWriteTimeout)
		if _, err := a.collection.InsertMany(ctx, batch); err != nil {
			log.Printf("Failed to archive %d ticks: %v", len(batch), err)
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case tick := <-a.queue:
			batch = append(batch, tick)
			if len(batch) >= ArchiveBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-a.done:
			// Drain whatever is left before exiting
			for {
				select {
				case tick := <-a.queue:
					batch = append(batch, tick)
				default:
					flush()
					return
				}
			}
		}
	}
}

// Close flushes pending ticks and disconnects
func (a *TickArchive) Close() error {
	if !a.Enabled() {
		return nil
	}

	close(a.done)
	a.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.client.Disconnect(ctx)
}
