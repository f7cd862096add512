package listing

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eldtechnologies/campus/internal/models"
	"github.com/eldtechnologies/campus/internal/store"
)

// memStore is an in-memory listing table.
type memStore struct {
	store.DataStore

	mu       sync.Mutex
	listings map[uuid.UUID]models.Listing
	filters  []models.ListingFilter
}

func newMemStore() *memStore {
	return &memStore{listings: make(map[uuid.UUID]models.Listing)}
}

func (m *memStore) CreateListing(ctx context.Context, l *models.Listing) (*models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := *l
	row.ID = uuid.New()
	row.CreatedAt = time.Now().Add(time.Duration(len(m.listings)) * time.Millisecond)
	row.UpdatedAt = row.CreatedAt
	if row.ImageURLs == nil {
		row.ImageURLs = []string{}
	}
	m.listings[row.ID] = row
	return &row, nil
}

func (m *memStore) GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (m *memStore) ListListings(ctx context.Context, f models.ListingFilter) ([]models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters = append(m.filters, f)
	out := []models.Listing{}
	for _, l := range m.listings {
		if f.Kind != "" && l.Kind != f.Kind {
			continue
		}
		if f.Status != "" && l.Status != f.Status {
			continue
		}
		if f.OwnerID != nil && l.OwnerID != *f.OwnerID {
			continue
		}
		if f.Query != "" && !strings.Contains(strings.ToLower(l.Title+" "+l.Body), strings.ToLower(f.Query)) {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) SetListingStatus(ctx context.Context, id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.listings[id]
	l.Status = status
	m.listings[id] = l
	return nil
}

func (m *memStore) DeleteListing(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listings, id)
	return nil
}

func (m *memStore) AddListingImage(ctx context.Context, id uuid.UUID, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.listings[id]
	l.ImageURLs = append(l.ImageURLs, url)
	m.listings[id] = l
	return nil
}
