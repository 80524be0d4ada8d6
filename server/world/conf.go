package world

import (
	"log/slog"
	"time"

	"github.com/brentp/intintmap"
	"github.com/google/uuid"
	"github.com/segmentio/fasthash/fnv1a"
)

// Config may be used to create a new World. It holds a variety of fields that
// influence the World.
type Config struct {
	// Log is the Logger that will be used to log errors and debug messages to.
	// If set to nil, slog.Default() is used.
	Log *slog.Logger
	// Name is the display name of the World, used in log messages and to
	// derive the random tick seed if RandomSeed is nil.
	Name string
	// Provider is the Provider implementation used to read and write chunks.
	// If set to nil, the World will never load chunks from storage and will
	// discard any chunk saved.
	Provider Provider
	// Generator is used to generate chunks that are not stored by the
	// Provider. If nil, chunks are left empty.
	Generator Generator
	// Blocks looks up the update hooks of blocks. If nil, no block is ever
	// updated.
	Blocks BlockTable
	// Entities is ticked once every tick. If nil, NopEntityManager is used.
	Entities EntityManager
	// Encoder encodes packaged chunks before they are broadcast. If nil, the
	// packaged data is broadcast unchanged.
	Encoder PayloadEncoder
	// Broadcaster delivers packaged chunks to players.
	Broadcaster Broadcaster
	// MinResidency is the minimum time a chunk stays in memory after it was
	// loaded. Defaults to 30 seconds.
	MinResidency time.Duration
	// GracePeriod is the minimum time a chunk stays in memory after the last
	// player left it. Defaults to 10 seconds.
	GracePeriod time.Duration
	// TickInterval is the time between two ticks of the World. Defaults to
	// 50ms. A negative TickInterval disables the tick loop, in which case
	// the World is only ticked through calls to World.Tick.
	TickInterval time.Duration
	// SaveInterval specifies how often chunks are saved to the Provider.
	// Defaults to 5 minutes. A negative SaveInterval disables autosaving.
	SaveInterval time.Duration
	// PayloadCacheSize is the maximum amount of packaged chunks kept in
	// memory. A value of 0 keeps the payload of every resident chunk.
	PayloadCacheSize int
	// QueueWarnThreshold is the amount of pending I/O tasks above which a
	// warning is logged. Defaults to 1024.
	QueueWarnThreshold int
	// ForceLoadTimeout bounds the time World.LoadChunkSync waits for a chunk.
	// A value of 0 waits until the chunk is loaded.
	ForceLoadTimeout time.Duration
	// RandomSeed is the initial state of the random tick sampler. If nil, a
	// seed is derived from the Name and the current time.
	RandomSeed *int32
	// SpawnSendRadius is the radius in chunks of chunks sent to a player
	// added to the World. Defaults to 4.
	SpawnSendRadius int
	// ReadOnly specifies if the World should be read-only, meaning no new
	// data will be written to the Provider.
	ReadOnly bool
	// Clock returns the current time. It is used for residency timestamps
	// and when the World ticks itself. Defaults to time.Now.
	Clock func() time.Time
}

// New creates a new World using the Config conf. The World returned will
// start ticking as soon as it is created, unless TickInterval is negative.
func (conf Config) New() *World {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Name == "" {
		conf.Name = "World"
	}
	conf.Log = conf.Log.With("world", conf.Name)
	if conf.Provider == nil {
		conf.Provider = NopProvider{}
	}
	if conf.Generator == nil {
		conf.Generator = NopGenerator{}
	}
	if conf.Entities == nil {
		conf.Entities = NopEntityManager{}
	}
	if conf.Encoder == nil {
		conf.Encoder = RawEncoder{}
	}
	if conf.Broadcaster == nil {
		conf.Broadcaster = NopBroadcaster{}
	}
	if conf.MinResidency == 0 {
		conf.MinResidency = time.Second * 30
	}
	if conf.GracePeriod == 0 {
		conf.GracePeriod = time.Second * 10
	}
	if conf.TickInterval == 0 {
		conf.TickInterval = time.Second / 20
	}
	if conf.SaveInterval == 0 {
		conf.SaveInterval = time.Minute * 5
	}
	if conf.QueueWarnThreshold == 0 {
		conf.QueueWarnThreshold = 1024
	}
	if conf.SpawnSendRadius == 0 {
		conf.SpawnSendRadius = 4
	}
	if conf.Clock == nil {
		conf.Clock = time.Now
	}
	seed := deriveSeed(conf.Name, conf.Clock())
	if conf.RandomSeed != nil {
		seed = *conf.RandomSeed
	}

	metrics := NewMetrics()
	w := &World{
		conf:         conf,
		metrics:      metrics,
		index:        intintmap.New(64, 0.6),
		pending:      make(map[ChunkPos]*ChunkFuture),
		worker:       newWorker(conf.Log, conf.Provider, conf.Generator, metrics, conf.QueueWarnThreshold),
		payloads:     newPayloadCache(conf.PayloadCacheSize),
		packaging:    newQueue[packageRequest](),
		random:       randomTicker{state: seed},
		players:      make(map[uuid.UUID]ChunkPos),
		queue:        make(chan transaction, 128),
		queueClosing: make(chan struct{}),
		closing:      make(chan struct{}),
	}
	w.lastTick.Store(conf.Clock().UnixNano())

	w.queueing.Add(1)
	go w.handleTransactions()
	go w.worker.run()

	w.running.Add(1)
	go w.autoSave()
	if conf.TickInterval > 0 {
		w.running.Add(1)
		go ticker{interval: conf.TickInterval}.tickLoop(w)
	}
	return w
}

// deriveSeed derives the initial random tick state from the name of a world
// and a point in time.
func deriveSeed(name string, t time.Time) int32 {
	h := fnv1a.HashString64(name)
	h = fnv1a.AddUint64(h, uint64(t.UnixNano()))
	return int32(h ^ h>>32)
}
