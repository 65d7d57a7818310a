package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MegaGrindStone/minutes-web-ui/internal/models"
	bolt "go.etcd.io/bbolt"
)

// BoltDB archives settled question and answer exchanges in a BoltDB file. The live chat never reads
// from it. It only exists so a transcript outlives the process when an archive path is configured.
type BoltDB struct {
	db *bolt.DB
}

var exchangesBucket = []byte("exchanges")

// NewBoltDB opens the archive at path, creating the file with 0600 permissions and the exchanges
// bucket if they don't exist yet. It gives up after a second if another process holds the file.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(exchangesBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return BoltDB{}, fmt.Errorf("failed to create exchanges bucket: %w", err)
	}

	return BoltDB{db: db}, nil
}

// Close releases the database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

// AddExchange stores ex and returns its ID, made of a sequence number followed by the exchange's own
// ID so that keys sort in insertion order.
func (b BoltDB) AddExchange(_ context.Context, ex models.Exchange) (string, error) {
	var newID string
	err := b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(exchangesBucket)
		if bk == nil {
			return fmt.Errorf("bucket %s not found", exchangesBucket)
		}

		seq, err := bk.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}
		newID = fmt.Sprintf("%020d-%s", seq, ex.ID)
		ex.ID = newID

		v, err := json.Marshal(ex)
		if err != nil {
			return fmt.Errorf("failed to marshal exchange: %w", err)
		}

		return bk.Put([]byte(newID), v)
	})

	return newID, err
}

// Exchanges returns every archived exchange, oldest first.
func (b BoltDB) Exchanges(context.Context) ([]models.Exchange, error) {
	var exchanges []models.Exchange
	err := b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(exchangesBucket)
		if bk == nil {
			return nil
		}

		return bk.ForEach(func(_, v []byte) error {
			var ex models.Exchange
			if err := json.Unmarshal(v, &ex); err != nil {
				return fmt.Errorf("failed to unmarshal exchange: %w", err)
			}
			exchanges = append(exchanges, ex)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return exchanges, nil
}
