package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"
)

var (
	outPath   = flag.String("out", "evinfo.sqlite", "Database file to write (replaced if it exists)")
	events    = flag.Int("events", 2000, "Number of events to generate")
	networks  = flag.Int("networks", 3, "Number of networks")
	providers = flag.Int("providers", 4, "Number of providers observing the networks")
	seed      = flag.Int64("seed", 0, "Random seed (0 uses the current time)")
)

const schema = `
CREATE TABLE Event (
	id INTEGER PRIMARY KEY,
	network TEXT NOT NULL,
	tx_hash TEXT NOT NULL,
	block INTEGER NOT NULL
);
CREATE TABLE EvInfo (
	id INTEGER PRIMARY KEY,
	event_id INTEGER REFERENCES Event(id),
	network TEXT,
	tx_hash TEXT,
	multi_id TEXT,
	receive_time INTEGER
);`

// observation is one provider reporting one event.
type observation struct {
	provider    string
	receiveTime int64
}

func main() {
	flag.Parse()
	if *events <= 0 || *networks <= 0 || *providers <= 1 {
		log.Fatalf("events and networks must be positive and providers at least 2")
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(*seed))

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		log.Println("Shutdown signal received, stopping generator...")
		cancel()
	}()

	if err := os.Remove(*outPath); err != nil && !os.IsNotExist(err) {
		log.Fatalf("Error removing %s: %v", *outPath, err)
	}
	db, err := sql.Open("sqlite", *outPath)
	if err != nil {
		log.Fatalf("Error opening %s: %v", *outPath, err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Fatalf("Error closing database: %v", err)
		}
	}()

	log.Printf("Generating %d events over %d networks and %d providers into %s (seed %d)",
		*events, *networks, *providers, *outPath, *seed)

	rows, err := generate(ctx, db, rng)
	if err != nil {
		log.Fatalf("Error generating database: %v", err)
	}
	log.Printf("Wrote %d EvInfo rows.", rows)
}

func generate(ctx context.Context, db *sql.DB, rng *rand.Rand) (int, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return 0, fmt.Errorf("create schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	insEvent, err := tx.PrepareContext(ctx, "INSERT INTO Event (id, network, tx_hash, block) VALUES (?, ?, ?, ?)")
	if err != nil {
		return 0, err
	}
	defer insEvent.Close()
	insInfo, err := tx.PrepareContext(ctx, "INSERT INTO EvInfo (event_id, network, tx_hash, multi_id, receive_time) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return 0, err
	}
	defer insInfo.Close()

	netNames := make([]string, *networks)
	for i := range netNames {
		netNames[i] = fmt.Sprintf("net-%d", i+1)
	}
	provNames := make([]string, *providers)
	// Provider i is on average (i+1)*15ms behind the event.
	provLatency := make([]float64, *providers)
	for i := range provNames {
		provNames[i] = fmt.Sprintf("provider-%c", 'A'+i%26)
		if i >= 26 {
			provNames[i] = fmt.Sprintf("provider-%d", i)
		}
		provLatency[i] = float64(i+1) * 15
	}

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	rows := 0
	for id := 1; id <= *events; id++ {
		if err := ctx.Err(); err != nil {
			return rows, err
		}

		network := netNames[rng.Intn(len(netNames))]
		txHash := fmt.Sprintf("0x%016x%016x", rng.Uint64(), rng.Uint64())
		clock += int64(50 + rng.Intn(400))
		if _, err := insEvent.ExecContext(ctx, id, network, txHash, id/10); err != nil {
			return rows, err
		}

		for _, o := range observe(rng, clock, provNames, provLatency) {
			if _, err := insInfo.ExecContext(ctx, id, network, txHash, o.provider, o.receiveTime); err != nil {
				return rows, err
			}
			rows++
		}
	}

	if err := tx.Commit(); err != nil {
		return rows, err
	}
	return rows, nil
}

// observe picks which providers saw an event and when. About one event in
// ten is seen by a single provider, and about 3% of observations carry a
// large extra delay so lag distributions are right-skewed.
func observe(rng *rand.Rand, at int64, names []string, latency []float64) []observation {
	n := 2 + rng.Intn(len(names)-1)
	if rng.Float64() < 0.1 {
		n = 1
	}

	out := make([]observation, 0, n)
	for _, i := range rng.Perm(len(names))[:n] {
		delay := latency[i] + rng.NormFloat64()*5
		if delay < 0 {
			delay = 0
		}
		if rng.Float64() < 0.03 {
			delay += 500 + rng.Float64()*5000
		}
		out = append(out, observation{provider: names[i], receiveTime: at + int64(delay)})
	}
	return out
}
