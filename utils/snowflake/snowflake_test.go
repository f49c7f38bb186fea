package snowflake

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestParseID(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    ID
		expectError bool
	}{
		{
			name:     "valid numeric string",
			input:    "175928847299117063",
			expected: ID(175928847299117063),
		},
		{
			name:     "small id",
			input:    "42",
			expected: ID(42),
		},
		{
			name:        "empty string",
			input:       "",
			expectError: true,
		},
		{
			name:        "non-numeric",
			input:       "abc123",
			expectError: true,
		},
		{
			name:        "negative number",
			input:       "-5",
			expectError: true,
		},
		{
			name:        "overflow",
			input:       "99999999999999999999999999",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ParseID(tt.input)
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if id != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, id)
			}
		})
	}
}

func TestID_Time(t *testing.T) {
	// 175928847299117063 >> 22 = 41944705796 ms past the epoch,
	// which is 2016-04-30 11:18:25.796 UTC.
	id := ID(175928847299117063)
	got := id.Time()
	want := time.Date(2016, time.April, 30, 11, 18, 25, 796000000, time.UTC)
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestID_JSONRoundTrip(t *testing.T) {
	t.Run("string form", func(t *testing.T) {
		var id ID
		if err := json.Unmarshal([]byte(`"100"`), &id); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id != 100 {
			t.Errorf("expected 100, got %d", id)
		}

		out, err := json.Marshal(id)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(out) != `"100"` {
			t.Errorf("expected quoted decimal, got %s", out)
		}
	})

	t.Run("bare number form", func(t *testing.T) {
		var id ID
		if err := json.Unmarshal([]byte(`7`), &id); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id != 7 {
			t.Errorf("expected 7, got %d", id)
		}
	})

	t.Run("malformed input", func(t *testing.T) {
		var id ID
		if err := json.Unmarshal([]byte(`"not-a-number"`), &id); err == nil {
			t.Errorf("expected error but got none")
		}
	})
}

func TestNewGenerator(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorType   error
	}{
		{
			name:   "valid default configuration",
			config: Config{WorkerID: 1},
		},
		{
			name: "valid custom configuration",
			config: Config{
				WorkerID:     5,
				WorkerIDBits: 10,
				SequenceBits: 12,
			},
		},
		{
			name: "invalid worker ID - too large",
			config: Config{
				WorkerID:     1024, // Max is 1023 for 10 bits
				WorkerIDBits: 10,
				SequenceBits: 12,
			},
			expectError: true,
			errorType:   ErrInvalidWorkerID,
		},
		{
			name: "invalid worker ID - negative",
			config: Config{
				WorkerID:     -1,
				WorkerIDBits: 10,
				SequenceBits: 12,
			},
			expectError: true,
			errorType:   ErrInvalidWorkerID,
		},
		{
			name: "invalid bit allocation - exceeds 22 bits",
			config: Config{
				WorkerID:     1,
				WorkerIDBits: 15,
				SequenceBits: 15,
			},
			expectError: true,
			errorType:   ErrInvalidBitAllocation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen, err := NewGenerator(tt.config)
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				if tt.errorType != nil && err != tt.errorType {
					t.Errorf("expected error %v, got %v", tt.errorType, err)
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if gen == nil {
					t.Errorf("expected generator but got nil")
				}
			}
		})
	}
}

func TestGenerator_NextID(t *testing.T) {
	gen, err := NewGenerator(Config{WorkerID: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Run("generates unique monotonic IDs", func(t *testing.T) {
		var prev ID
		for range 1000 {
			id, err := gen.NextID()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if id <= prev {
				t.Fatalf("IDs not strictly increasing: %d after %d", id, prev)
			}
			prev = id
		}
	})

	t.Run("generated IDs decode to roughly now", func(t *testing.T) {
		id, err := gen.NextID()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		delta := time.Since(id.Time())
		if delta < 0 {
			delta = -delta
		}
		if delta > time.Minute {
			t.Errorf("derived time %v too far from now", id.Time())
		}
	})
}

func TestGenerator_NextID_Concurrent(t *testing.T) {
	gen, err := NewGenerator(Config{WorkerID: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	const goroutines = 8
	const perGoroutine = 500

	idChan := make(chan ID, goroutines*perGoroutine)

	var wg sync.WaitGroup
	for range goroutines {
		wg.Go(func() {
			for range perGoroutine {
				id, err := gen.NextID()
				if err != nil {
					return
				}
				idChan <- id
			}
		})
	}
	wg.Wait()
	close(idChan)

	seen := make(map[ID]bool)
	for id := range idChan {
		if seen[id] {
			t.Fatalf("duplicate ID generated: %d", id)
		}
		seen[id] = true
	}
	if len(seen) != goroutines*perGoroutine {
		t.Errorf("expected %d IDs, got %d", goroutines*perGoroutine, len(seen))
	}
}
