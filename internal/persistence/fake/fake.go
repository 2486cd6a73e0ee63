// Package fake provides in-memory persistence.Repository implementations
// for tests, grounded on the teacher's habit of hand-rolled fakes alongside
// its sqlx-backed repos (see internal/persistence/postgres).
package fake

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/RuSwift/arbitrage-sub000/internal/domain"
	"github.com/RuSwift/arbitrage-sub000/internal/persistence"
)

// Tokens is an in-memory persistence.TokenRepo.
type Tokens struct {
	mu   sync.Mutex
	rows []persistence.Token
	next int64
}

func NewTokens() *Tokens { return &Tokens{} }

func (t *Tokens) ListAll(_ context.Context) ([]persistence.Token, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]persistence.Token, len(t.rows))
	copy(out, t.rows)
	return out, nil
}

func (t *Tokens) Upsert(_ context.Context, symbol string, source persistence.TokenSource) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, r := range t.rows {
		if r.Symbol == symbol && r.Source == source {
			t.rows[i].UpdatedAt = time.Now()
			return r.ID, nil
		}
	}
	t.next++
	row := persistence.Token{ID: t.next, Symbol: symbol, Source: source, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	t.rows = append(t.rows, row)
	return row.ID, nil
}

// Jobs is an in-memory persistence.CrawlerJobRepo.
type Jobs struct {
	mu   sync.Mutex
	rows map[int64]*persistence.CrawlerJob
	next int64
}

func NewJobs() *Jobs { return &Jobs{rows: make(map[int64]*persistence.CrawlerJob)} }

func (j *Jobs) StartRun(_ context.Context, exchange domain.ExchangeID, kind domain.Kind, start time.Time) (*persistence.CrawlerJob, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, job := range j.rows {
		if job.Exchange == exchange && job.Kind == kind {
			job.Start, job.Stop, job.Error = start, nil, nil
			cp := *job
			return &cp, nil
		}
	}
	j.next++
	job := &persistence.CrawlerJob{ID: j.next, Exchange: exchange, Kind: kind, Start: start}
	j.rows[job.ID] = job
	cp := *job
	return &cp, nil
}

func (j *Jobs) FinishRun(_ context.Context, jobID int64, stop time.Time, runErr error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, ok := j.rows[jobID]
	if !ok {
		return nil
	}
	job.Stop = &stop
	if runErr != nil {
		msg := runErr.Error()
		job.Error = &msg
	}
	return nil
}

// Iterations is an in-memory persistence.CrawlerIterationRepo.
type Iterations struct {
	mu   sync.Mutex
	rows map[int64]*persistence.CrawlerIteration
	next int64
}

func NewIterations() *Iterations {
	return &Iterations{rows: make(map[int64]*persistence.CrawlerIteration)}
}

func (i *Iterations) FindOrCreate(_ context.Context, jobID, tokenID int64, symbol string, now time.Time) (*persistence.CrawlerIteration, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, it := range i.rows {
		if it.CrawlerJobID == jobID && it.TokenID == tokenID {
			cp := *it
			return &cp, nil
		}
	}
	i.next++
	it := &persistence.CrawlerIteration{ID: i.next, CrawlerJobID: jobID, TokenID: tokenID, Symbol: symbol, Start: now, Status: persistence.IterationInit, LastUpdate: now}
	i.rows[it.ID] = it
	cp := *it
	return &cp, nil
}

func (i *Iterations) ListPending(_ context.Context, jobID int64) ([]persistence.CrawlerIteration, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	var out []persistence.CrawlerIteration
	for _, it := range i.rows {
		if it.CrawlerJobID == jobID && it.Status == persistence.IterationPending {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (i *Iterations) TransitionMapped(_ context.Context, id int64, pair json.RawMessage, comment string, now time.Time) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	it, ok := i.rows[id]
	if !ok {
		return nil
	}
	it.LastUpdate = now
	if pair == nil {
		it.Status = persistence.IterationIgnore
		c := comment
		it.Comment = &c
		return nil
	}
	it.Status = persistence.IterationPending
	it.CurrencyPair = pair
	return nil
}

func (i *Iterations) RecordArtifact(_ context.Context, id int64, column string, payload json.RawMessage, now time.Time) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	it, ok := i.rows[id]
	if !ok {
		return nil
	}
	it.LastUpdate = now
	switch column {
	case "book_depth":
		it.BookDepth = payload
	case "klines":
		it.Klines = payload
	case "funding_rate":
		it.FundingRate = payload
	case "next_funding_rate":
		it.NextFundingRate = payload
	case "funding_rate_history":
		it.FundingRateHistory = payload
	}
	return nil
}

func (i *Iterations) Finish(_ context.Context, id int64, status persistence.IterationStatus, errMsg *string, stop time.Time) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	it, ok := i.rows[id]
	if !ok {
		return nil
	}
	it.Status = status
	it.Error = errMsg
	it.Stop = &stop
	it.Done = true
	return nil
}

// Get returns the current row for id, for assertions in tests.
func (i *Iterations) Get(id int64) (persistence.CrawlerIteration, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	it, ok := i.rows[id]
	if !ok {
		return persistence.CrawlerIteration{}, false
	}
	return *it, true
}

// Snapshots is an in-memory persistence.SnapshotRepo.
type Snapshots struct {
	mu   sync.Mutex
	rows []persistence.CurrencyPairSnapshot
}

func NewSnapshots() *Snapshots { return &Snapshots{} }

func (s *Snapshots) Upsert(_ context.Context, snap persistence.CurrencyPairSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for idx, r := range s.rows {
		if r.ExchangeID == snap.ExchangeID && r.Kind == snap.Kind && r.Symbol == snap.Symbol &&
			r.AlignToMinutes == snap.AlignToMinutes && r.AlignedTimestamp == snap.AlignedTimestamp {
			s.rows[idx] = snap
			return nil
		}
	}
	s.rows = append(s.rows, snap)
	return nil
}

func (s *Snapshots) Latest(_ context.Context, exchange domain.ExchangeID, kind domain.Kind, symbol string, alignToMinutes int) (*persistence.CurrencyPairSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *persistence.CurrencyPairSnapshot
	for i, r := range s.rows {
		if r.ExchangeID != exchange || r.Kind != kind || r.Symbol != symbol || r.AlignToMinutes != alignToMinutes {
			continue
		}
		if best == nil || r.AlignedTimestamp > best.AlignedTimestamp {
			row := s.rows[i]
			best = &row
		}
	}
	return best, nil
}

func (s *Snapshots) LastWriteTime(_ context.Context, exchange domain.ExchangeID, kind domain.Kind, symbol string, alignToMinutes int) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	var last int64
	for _, r := range s.rows {
		if r.ExchangeID != exchange || r.Kind != kind || r.Symbol != symbol || r.AlignToMinutes != alignToMinutes {
			continue
		}
		if !found || r.AlignedTimestamp > last {
			last = r.AlignedTimestamp
			found = true
		}
	}
	return last, found, nil
}

// ServiceCfg is an in-memory persistence.ServiceConfigRepo.
type ServiceCfg struct {
	mu   sync.Mutex
	rows map[string]json.RawMessage
}

func NewServiceCfg() *ServiceCfg { return &ServiceCfg{rows: make(map[string]json.RawMessage)} }

func (c *ServiceCfg) Get(_ context.Context, class string) (json.RawMessage, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.rows[class]
	return raw, ok, nil
}

func (c *ServiceCfg) Put(_ context.Context, class string, payload json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows[class] = payload
	return nil
}

// NewRepository builds a full persistence.Repository backed by fresh
// in-memory implementations of every sub-repo.
func NewRepository() persistence.Repository {
	return persistence.Repository{
		Tokens:     NewTokens(),
		Jobs:       NewJobs(),
		Iterations: NewIterations(),
		Snapshots:  NewSnapshots(),
		ServiceCfg: NewServiceCfg(),
	}
}

var (
	_ persistence.TokenRepo            = (*Tokens)(nil)
	_ persistence.CrawlerJobRepo       = (*Jobs)(nil)
	_ persistence.CrawlerIterationRepo = (*Iterations)(nil)
	_ persistence.SnapshotRepo         = (*Snapshots)(nil)
	_ persistence.ServiceConfigRepo    = (*ServiceCfg)(nil)
)
