package pipeline_test

import (
	"context"
	"sync"
	"time"

	"github.com/boroughwatch/london-crime-etl/internal/domain"
)

// --- mocks ---

type mockDiscoverer struct {
	candidates []domain.Candidate
	err        error
}

func (m *mockDiscoverer) Discover(_ context.Context) ([]domain.Candidate, error) {
	return m.candidates, m.err
}

type fetchResponse struct {
	res  domain.SourceResource
	data []byte
	err  error
}

type mockFetcher struct {
	mu        sync.Mutex
	responses map[string]fetchResponse // keyed by candidate URL
	calls     []string
}

func (m *mockFetcher) Fetch(_ context.Context, c domain.Candidate) (domain.SourceResource, []byte, error) {
	m.mu.Lock()
	m.calls = append(m.calls, c.URL)
	m.mu.Unlock()

	r, ok := m.responses[c.URL]
	if !ok {
		return domain.SourceResource{}, nil, &domain.FetchError{URL: c.URL, Status: 404}
	}
	return r.res, r.data, r.err
}

type memStore struct {
	mu        sync.Mutex
	existing  *domain.CombinedTable
	written   *domain.CombinedTable
	audit     map[domain.SourceKind][]domain.CanonicalRecord
	lockErr   error
	writeErr  error
	locked    int
	unlocked  int
	writes    int
	readCalls int
}

func newMemStore() *memStore {
	return &memStore{existing: domain.NewCombinedTable()}
}

func (s *memStore) Lock(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockErr != nil {
		return s.lockErr
	}
	s.locked++
	return nil
}

func (s *memStore) Unlock() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unlocked++
	return nil
}

func (s *memStore) ReadCombined(_ context.Context) (*domain.CombinedTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readCalls++
	// Hand out a copy so the pipeline's mutations only land via Write.
	table := domain.NewCombinedTable()
	for _, row := range s.existing.Rows() {
		table.Put(row)
	}
	return table, nil
}

func (s *memStore) Write(_ context.Context, table *domain.CombinedTable, audit map[domain.SourceKind][]domain.CanonicalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.writes++
	s.written = table
	s.existing = table
	s.audit = audit
	return nil
}

type mockNotifier struct {
	mu      sync.Mutex
	results []domain.RunResult
}

func (m *mockNotifier) NotifyRun(_ context.Context, result domain.RunResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, result)
	return nil
}

// --- fixtures ---

const (
	boroughURL = "https://portal.test/dl/borough.csv"
	wardURL    = "https://portal.test/dl/ward.csv"
	lsoaURL    = "https://portal.test/interactive/download?id=42"
)

var (
	boroughCSV = []byte("MajorText,MinorText,BoroughName,202001,202002\n" +
		"Burglary,Residential,Camden,5,7\n" +
		"Robbery,Personal Robbery,Westminster,2,0\n")

	wardCSV = []byte("MajorText,MinorText,LookUp_BoroughName,WardName,202002\n" +
		"Burglary,Residential,Camden,Holborn,4\n" +
		"Burglary,Residential,Camden,Gospel Oak,6\n")
)

func boroughCandidate() domain.Candidate {
	return domain.Candidate{
		URL: boroughURL, Filename: "borough.csv",
		Kind: domain.KindBorough, Format: domain.FormatCSV,
	}
}

func wardCandidate() domain.Candidate {
	return domain.Candidate{
		URL: wardURL, Filename: "ward.csv",
		Kind: domain.KindWard, Format: domain.FormatCSV,
	}
}

func resource(kind domain.SourceKind, filename string, vintage time.Time) domain.SourceResource {
	return domain.SourceResource{
		Filename: filename, Kind: kind, Format: domain.FormatCSV,
		FetchedAt: vintage, Vintage: vintage, ContentHash: "test-" + filename,
	}
}
