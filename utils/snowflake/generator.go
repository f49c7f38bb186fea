package snowflake

import (
	"errors"
	"sync"
	"time"
)

const (
	// Default bit allocations below the 42-bit timestamp.
	DefaultWorkerIDBits uint8 = 10
	DefaultSequenceBits uint8 = 12
)

var (
	ErrInvalidWorkerID      = errors.New("worker ID exceeds maximum value")
	ErrClockMovedBackwards  = errors.New("clock moved backwards")
	ErrInvalidBitAllocation = errors.New("invalid bit allocation: total bits must not exceed 22")
)

// Generator mints process-local IDs using the Snowflake algorithm.
// It is used wherever the client needs an identifier that sorts with the
// platform's own IDs (test fixtures, gateway session bookkeeping).
type Generator struct {
	mu sync.Mutex

	// Configuration
	epoch        int64
	workerID     int64
	workerIDBits uint8
	sequenceBits uint8

	// Bit masks and shifts
	workerIDShift  uint8
	timestampShift uint8
	sequenceMask   int64
	workerIDMask   int64

	// State
	sequence      int64
	lastTimestamp int64
}

// Config holds the configuration for the Snowflake generator
type Config struct {
	Epoch        int64
	WorkerID     int64
	WorkerIDBits uint8
	SequenceBits uint8
}

// NewGenerator creates a new Snowflake ID generator with the given configuration
func NewGenerator(config Config) (*Generator, error) {
	// Set defaults if not provided
	if config.WorkerIDBits == 0 {
		config.WorkerIDBits = DefaultWorkerIDBits
	}
	if config.SequenceBits == 0 {
		config.SequenceBits = DefaultSequenceBits
	}
	if config.Epoch == 0 {
		config.Epoch = Epoch
	}

	// 42 (timestamp) + workerIDBits + sequenceBits must fit in 64 bits
	totalBits := config.WorkerIDBits + config.SequenceBits
	if totalBits > 22 {
		return nil, ErrInvalidBitAllocation
	}

	g := &Generator{
		epoch:        config.Epoch,
		workerID:     config.WorkerID,
		workerIDBits: config.WorkerIDBits,
		sequenceBits: config.SequenceBits,
	}

	// Calculate bit shifts and masks
	g.workerIDShift = g.sequenceBits
	g.timestampShift = g.sequenceBits + g.workerIDBits
	g.sequenceMask = -1 ^ (-1 << g.sequenceBits)
	g.workerIDMask = -1 ^ (-1 << g.workerIDBits)

	if g.workerID > g.workerIDMask || g.workerID < 0 {
		return nil, ErrInvalidWorkerID
	}

	return g, nil
}

// NextID generates the next unique ID
func (g *Generator) NextID() (ID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	timestamp := g.currentTimestamp()

	// Check for clock moving backwards
	if timestamp < g.lastTimestamp {
		return 0, ErrClockMovedBackwards
	}

	// If same millisecond, increment sequence
	if timestamp == g.lastTimestamp {
		g.sequence = (g.sequence + 1) & g.sequenceMask
		// Sequence overflow - wait for next millisecond
		if g.sequence == 0 {
			timestamp = g.waitNextMillis(g.lastTimestamp)
		}
	} else {
		// New millisecond, reset sequence
		g.sequence = 0
	}

	g.lastTimestamp = timestamp

	// Construct the ID
	id := ((timestamp - g.epoch) << g.timestampShift) |
		(g.workerID << g.workerIDShift) |
		g.sequence

	return ID(id), nil
}

// currentTimestamp returns the current timestamp in milliseconds
func (g *Generator) currentTimestamp() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}

// waitNextMillis waits until the next millisecond
func (g *Generator) waitNextMillis(lastTimestamp int64) int64 {
	timestamp := g.currentTimestamp()
	for timestamp <= lastTimestamp {
		timestamp = g.currentTimestamp()
	}
	return timestamp
}

// Parse extracts the components from a Snowflake ID
func (g *Generator) Parse(id ID) (timestamp int64, workerID int64, sequence int64) {
	sequence = int64(id) & g.sequenceMask
	workerID = (int64(id) >> g.workerIDShift) & g.workerIDMask
	timestamp = (int64(id) >> g.timestampShift) + g.epoch
	return
}
