package archive

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS whale_sightings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    tx_hash TEXT NOT NULL UNIQUE,
    amount_btc REAL NOT NULL,
    amount_usd REAL NOT NULL,
    from_address TEXT,
    to_address TEXT,
    classification TEXT NOT NULL,
    description TEXT,
    block_height INTEGER DEFAULT 0,
    job_id TEXT DEFAULT '',
    observed_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sighting_time ON whale_sightings(observed_at);
CREATE INDEX IF NOT EXISTS idx_sighting_class ON whale_sightings(classification);
`

// Sighting is one archived whale movement. Hash is unique per transaction,
// so re-observing the same tx (mempool then block) is a no-op.
type Sighting struct {
	ID             int64     `json:"id"`
	Hash           string    `json:"hash"`
	AmountBTC      float64   `json:"amount_btc"`
	AmountUSD      float64   `json:"amount_usd"`
	FromAddress    string    `json:"from_address"`
	ToAddress      string    `json:"to_address"`
	Classification string    `json:"classification"`
	Description    string    `json:"description"`
	BlockHeight    int64     `json:"block_height"`
	JobID          string    `json:"job_id,omitempty"`
	ObservedAt     time.Time `json:"observed_at"`
}

// Stats summarizes the archive for reporting.
type Stats struct {
	Total    int64            `json:"total"`
	TotalUSD float64          `json:"total_usd"`
	ByType   map[string]int64 `json:"by_type"`
}

type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Insert archives a sighting. Returns false when the transaction hash was
// already recorded.
func (s *Store) Insert(sg Sighting) (bool, error) {
	// Timestamps go in as UTC so sqlite's text comparison stays sane.
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO whale_sightings
		(tx_hash, amount_btc, amount_usd, from_address, to_address, classification, description, block_height, job_id, observed_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		sg.Hash, sg.AmountBTC, sg.AmountUSD, sg.FromAddress, sg.ToAddress,
		sg.Classification, sg.Description, sg.BlockHeight, sg.JobID, sg.ObservedAt.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// LinkJob attaches an analysis job id to an archived sighting.
func (s *Store) LinkJob(hash, jobID string) error {
	_, err := s.db.Exec("UPDATE whale_sightings SET job_id=? WHERE tx_hash=?", jobID, hash)
	return err
}

func (s *Store) Recent(limit int) ([]Sighting, error) {
	rows, err := s.db.Query(`
		SELECT id, tx_hash, amount_btc, amount_usd, COALESCE(from_address,''), COALESCE(to_address,''),
		       classification, COALESCE(description,''), block_height, COALESCE(job_id,''), observed_at
		FROM whale_sightings ORDER BY observed_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sightings []Sighting
	for rows.Next() {
		var sg Sighting
		if err := rows.Scan(&sg.ID, &sg.Hash, &sg.AmountBTC, &sg.AmountUSD, &sg.FromAddress, &sg.ToAddress,
			&sg.Classification, &sg.Description, &sg.BlockHeight, &sg.JobID, &sg.ObservedAt); err != nil {
			continue
		}
		sightings = append(sightings, sg)
	}
	return sightings, nil
}

func (s *Store) ByAddress(address string, limit int) ([]Sighting, error) {
	rows, err := s.db.Query(`
		SELECT id, tx_hash, amount_btc, amount_usd, COALESCE(from_address,''), COALESCE(to_address,''),
		       classification, COALESCE(description,''), block_height, COALESCE(job_id,''), observed_at
		FROM whale_sightings WHERE from_address=? OR to_address=?
		ORDER BY observed_at DESC, id DESC LIMIT ?`, address, address, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sightings []Sighting
	for rows.Next() {
		var sg Sighting
		if err := rows.Scan(&sg.ID, &sg.Hash, &sg.AmountBTC, &sg.AmountUSD, &sg.FromAddress, &sg.ToAddress,
			&sg.Classification, &sg.Description, &sg.BlockHeight, &sg.JobID, &sg.ObservedAt); err != nil {
			continue
		}
		sightings = append(sightings, sg)
	}
	return sightings, nil
}

func (s *Store) GetStats() (Stats, error) {
	st := Stats{ByType: map[string]int64{}}

	if err := s.db.QueryRow("SELECT COUNT(*), COALESCE(SUM(amount_usd),0) FROM whale_sightings").Scan(&st.Total, &st.TotalUSD); err != nil {
		return st, err
	}

	rows, err := s.db.Query("SELECT classification, COUNT(*) FROM whale_sightings GROUP BY classification")
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var class string
		var count int64
		if err := rows.Scan(&class, &count); err != nil {
			continue
		}
		st.ByType[class] = count
	}
	return st, nil
}

// Prune deletes sightings observed before now-olderThan and reports how many
// rows went away.
func (s *Store) Prune(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.Exec("DELETE FROM whale_sightings WHERE observed_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
