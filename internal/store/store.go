// Package store keeps finished survey reports so they can be listed and
// shown again later. Crawl and analysis never read from it.
package store

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/PentesterFlow/sitesurvey/internal/analysis"
	"github.com/PentesterFlow/sitesurvey/internal/corpus"
)

var bucketReports = []byte("reports")

// ErrNotFound is returned for an unknown report id.
var ErrNotFound = stderrors.New("report not found")

// Report is a crawl with its analysis.
type Report struct {
	ID        string             `json:"id"`
	CreatedAt time.Time          `json:"created_at"`
	SiteURL   string             `json:"site_url"`
	Crawl     corpus.CrawlResult `json:"crawl"`
	Document  *analysis.Document `json:"document,omitempty"`
}

// Summary is the listing view of a report.
type Summary struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	SiteURL   string    `json:"site_url"`
	Pages     int       `json:"pages"`
	PageTypes int       `json:"page_types"`
}

func (r *Report) summary() Summary {
	s := Summary{ID: r.ID, CreatedAt: r.CreatedAt, SiteURL: r.SiteURL, Pages: len(r.Crawl.URLs)}
	if r.Document != nil {
		s.PageTypes = len(r.Document.PageTypes)
	}
	return s
}

// Store persists reports.
type Store interface {
	// Save assigns an id and timestamp when missing and stores r.
	Save(r *Report) error
	Get(id string) (*Report, error)
	// List returns summaries, newest first.
	List() ([]Summary, error)
	Delete(id string) error
	Close() error
}

func prepare(r *Report) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
}

func newestFirst(out []Summary) {
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
}

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db   *bolt.DB
	path string
}

// NewBoltStore opens or creates the database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketReports)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltStore{db: db, path: path}, nil
}

// Path returns the database file.
func (s *BoltStore) Path() string { return s.path }

func (s *BoltStore) Save(r *Report) error {
	prepare(r)
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketReports).Put([]byte(r.ID), data)
	})
}

func (s *BoltStore) Get(id string) (*Report, error) {
	var r Report
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketReports).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *BoltStore) List() ([]Summary, error) {
	var out []Summary
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketReports).ForEach(func(k, v []byte) error {
			var r Report
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("report %s: %w", k, err)
			}
			out = append(out, r.summary())
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	newestFirst(out)
	return out, nil
}

func (s *BoltStore) Delete(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReports)
		if b.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(id))
	})
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// MemoryStore implements Store in memory. Used by the server when no
// store path is configured, and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	reports map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reports: make(map[string][]byte)}
}

func (s *MemoryStore) Save(r *Report) error {
	prepare(r)
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	s.mu.Lock()
	s.reports[r.ID] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(id string) (*Report, error) {
	s.mu.RLock()
	data, ok := s.reports[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *MemoryStore) List() ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Summary, 0, len(s.reports))
	for _, data := range s.reports {
		var r Report
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		out = append(out, r.summary())
	}
	newestFirst(out)
	return out, nil
}

func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[id]; !ok {
		return ErrNotFound
	}
	delete(s.reports, id)
	return nil
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}
