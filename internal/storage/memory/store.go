// Package memory provides an in-memory implementation for development/testing.
package memory

import (
	"context"
	"sync"

	"github.com/rankwatch/rankwatch/internal/monitor"
)

type artifactKey struct {
	customerID string
	kind       monitor.Kind
	subject    string
}

type coverageKey struct {
	runID      string
	customerID string
	runType    monitor.RunType
}

type confirmationKey struct {
	customerID string
	metricKey  string
}

// Store is an in-memory monitor.Store. Coverage rows remember insertion
// order per (customer, run type) so LastRunID works without timestamps.
type Store struct {
	mu            sync.RWMutex
	customers     []monitor.Customer
	targets       map[string][]monitor.Target
	artifacts     map[artifactKey]monitor.Artifact
	findings      map[string]monitor.Finding
	findingOrder  []string
	coverage      map[coverageKey]monitor.Coverage
	runHistory    map[string][]string
	confirmations map[confirmationKey]monitor.ConfirmationRecord
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		targets:       make(map[string][]monitor.Target),
		artifacts:     make(map[artifactKey]monitor.Artifact),
		findings:      make(map[string]monitor.Finding),
		coverage:      make(map[coverageKey]monitor.Coverage),
		runHistory:    make(map[string][]string),
		confirmations: make(map[confirmationKey]monitor.ConfirmationRecord),
	}
}

// AddCustomer registers a customer. Test/dev seeding helper.
func (s *Store) AddCustomer(c monitor.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers = append(s.customers, c)
}

// AddTarget registers a target for a customer. Test/dev seeding helper.
func (s *Store) AddTarget(t monitor.Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets[t.CustomerID] = append(s.targets[t.CustomerID], t)
}

// ListActiveCustomers returns customers whose status is "active".
func (s *Store) ListActiveCustomers(_ context.Context) ([]monitor.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []monitor.Customer
	for _, c := range s.customers {
		if c.Status == "active" {
			out = append(out, c)
		}
	}
	return out, nil
}

// ListTargets returns the targets registered for a customer.
func (s *Store) ListTargets(_ context.Context, customerID string) ([]monitor.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	targets := s.targets[customerID]
	out := make([]monitor.Target, len(targets))
	copy(out, targets)
	return out, nil
}

// GetArtifact looks up the latest snapshot for (customer, kind, subject).
func (s *Store) GetArtifact(_ context.Context, customerID string, kind monitor.Kind, subject string) (monitor.Artifact, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	art, ok := s.artifacts[artifactKey{customerID, kind, subject}]
	return art, ok, nil
}

// PutArtifact upserts a snapshot, last write wins.
func (s *Store) PutArtifact(_ context.Context, artifact monitor.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[artifactKey{artifact.CustomerID, artifact.Kind, artifact.Subject}] = artifact
	return nil
}

// InsertFinding appends a finding unless its dedupe key is already present.
func (s *Store) InsertFinding(_ context.Context, finding monitor.Finding) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.findings[finding.DedupeKey]; exists {
		return false, nil
	}
	s.findings[finding.DedupeKey] = finding
	s.findingOrder = append(s.findingOrder, finding.DedupeKey)
	return true, nil
}

// ListFindings returns the findings created by one run, in insertion order.
func (s *Store) ListFindings(_ context.Context, runID string) ([]monitor.Finding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []monitor.Finding
	for _, key := range s.findingOrder {
		if f := s.findings[key]; f.RunID == runID {
			out = append(out, f)
		}
	}
	return out, nil
}

// PutCoverage upserts a coverage row.
func (s *Store) PutCoverage(_ context.Context, cov monitor.Coverage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := coverageKey{cov.RunID, cov.CustomerID, cov.RunType}
	if _, exists := s.coverage[key]; !exists {
		hk := cov.CustomerID + "|" + string(cov.RunType)
		s.runHistory[hk] = append(s.runHistory[hk], cov.RunID)
	}
	s.coverage[key] = cov
	return nil
}

// GetCoverage looks up one coverage row.
func (s *Store) GetCoverage(_ context.Context, runID, customerID string, runType monitor.RunType) (monitor.Coverage, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cov, ok := s.coverage[coverageKey{runID, customerID, runType}]
	return cov, ok, nil
}

// LastRunID returns the most recently recorded run for the customer and
// cadence, or "" when there is none.
func (s *Store) LastRunID(_ context.Context, customerID string, runType monitor.RunType) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.runHistory[customerID+"|"+string(runType)]
	if len(history) == 0 {
		return "", nil
	}
	return history[len(history)-1], nil
}

// GetConfirmation looks up a pending confirmation record.
func (s *Store) GetConfirmation(_ context.Context, customerID, metricKey string) (monitor.ConfirmationRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.confirmations[confirmationKey{customerID, metricKey}]
	return rec, ok, nil
}

// PutConfirmation upserts a confirmation record.
func (s *Store) PutConfirmation(_ context.Context, rec monitor.ConfirmationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmations[confirmationKey{rec.CustomerID, rec.MetricKey}] = rec
	return nil
}

// DeleteConfirmation removes a confirmation record if present.
func (s *Store) DeleteConfirmation(_ context.Context, customerID, metricKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.confirmations, confirmationKey{customerID, metricKey})
	return nil
}
