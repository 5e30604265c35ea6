// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists everything the oracle produces.
//
// Layout under the data root:
//
//	claims/<hash_hex>.json    canonical text + claim list, content addressed
//	jobs/<job_id>.json        job state + config
//	responses/<job_id>.json   miner responses, one JSON object per line
//	evidence/<job_id>.json    final evidence bundle
//
// Snapshot files (claims, jobs, evidence) are written atomically via a
// temp file and rename. Response files are append-only: one writer per
// job holds the job lock and appends whole lines, so a bucket read never
// observes a torn record. BadgerDB carries a small job index so listing
// does not scan the filesystem.
package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/OracleFOSS/services/oracle/datatypes"
	badgerstore "github.com/AleutianAI/OracleFOSS/services/oracle/store/badger"
)

const jobIndexPrefix = "job:"

// Store is the durable state layer: proposals, jobs, response buckets and
// evidence bundles.
//
// Thread Safety: safe for concurrent use. Writes to one job are
// serialized on a per-job lock; the orchestrator is the only writer of a
// running job, readers go straight to disk.
type Store struct {
	root   string
	db     *badgerstore.DB
	logger *slog.Logger

	mu        sync.Mutex
	jobLocks  map[string]*sync.Mutex
	cancelled map[string]bool
}

// New creates a store rooted at dir, creating the layout directories.
func New(dir string, db *badgerstore.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	for _, sub := range []string{"claims", "jobs", "responses", "evidence"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0750); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	return &Store{
		root:      dir,
		db:        db,
		logger:    logger,
		jobLocks:  map[string]*sync.Mutex{},
		cancelled: map[string]bool{},
	}, nil
}

// Root returns the data root directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) jobLock(jobID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.jobLocks[jobID]
	if !ok {
		lock = &sync.Mutex{}
		s.jobLocks[jobID] = lock
	}
	return lock
}

// =============================================================================
// Proposals
// =============================================================================

// hashHex strips the algorithm prefix for use as a filename.
func hashHex(proposalHash string) string {
	return strings.TrimPrefix(proposalHash, "sha256:")
}

// SaveProposal persists a registered version under its content address.
// Writing the same hash twice is a harmless overwrite with identical
// content.
func (s *Store) SaveProposal(ctx context.Context, version datatypes.ProposalVersion) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := filepath.Join(s.root, "claims", hashHex(version.ProposalHash)+".json")
	return writeJSONAtomic(path, version)
}

// Proposal loads a version by proposal hash.
func (s *Store) Proposal(ctx context.Context, proposalHash string) (datatypes.ProposalVersion, error) {
	var version datatypes.ProposalVersion
	if err := ctx.Err(); err != nil {
		return version, err
	}
	path := filepath.Join(s.root, "claims", hashHex(proposalHash)+".json")
	if err := readJSON(path, &version); err != nil {
		if os.IsNotExist(err) {
			return version, fmt.Errorf("%w: proposal hash %s", datatypes.ErrNotFound, proposalHash)
		}
		return version, err
	}
	return version, nil
}

// =============================================================================
// Jobs
// =============================================================================

// SaveJob persists job state and refreshes the badger index entry.
func (s *Store) SaveJob(ctx context.Context, state datatypes.JobState) error {
	lock := s.jobLock(state.JobID)
	lock.Lock()
	defer lock.Unlock()

	path := filepath.Join(s.root, "jobs", state.JobID+".json")
	if err := writeJSONAtomic(path, state); err != nil {
		return err
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal job state: %w", err)
	}
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte(jobIndexPrefix+state.JobID), raw)
	})
}

// Job loads one job's state.
func (s *Store) Job(ctx context.Context, jobID string) (datatypes.JobState, error) {
	var state datatypes.JobState
	if err := ctx.Err(); err != nil {
		return state, err
	}
	path := filepath.Join(s.root, "jobs", jobID+".json")
	if err := readJSON(path, &state); err != nil {
		if os.IsNotExist(err) {
			return state, fmt.Errorf("%w: job %s", datatypes.ErrNotFound, jobID)
		}
		return state, err
	}
	return state, nil
}

// ListJobs returns all known job states from the index, unordered.
func (s *Store) ListJobs(ctx context.Context) ([]datatypes.JobState, error) {
	var jobs []datatypes.JobState
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(jobIndexPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var state datatypes.JobState
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &state)
			})
			if err != nil {
				return err
			}
			jobs = append(jobs, state)
		}
		return nil
	})
	return jobs, err
}

// =============================================================================
// Response Buckets
// =============================================================================

// AppendResponses appends responses to a job's bucket file, one JSON line
// each, in the given order. Appends after the job was cancelled are
// dropped silently per the cancellation contract.
func (s *Store) AppendResponses(ctx context.Context, jobID string, responses []datatypes.MinerResponse) error {
	if len(responses) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	lock := s.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	dropped := s.cancelled[jobID]
	s.mu.Unlock()
	if dropped {
		s.logger.Debug("dropping responses for cancelled job",
			slog.String("job_id", jobID), slog.Int("count", len(responses)))
		return nil
	}

	path := filepath.Join(s.root, "responses", jobID+".json")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return fmt.Errorf("open response bucket: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, r := range responses {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("append response: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush response bucket: %w", err)
	}
	return f.Sync()
}

// Responses loads a job's full response list in append order.
func (s *Store) Responses(ctx context.Context, jobID string) ([]datatypes.MinerResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(s.root, "responses", jobID+".json")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []datatypes.MinerResponse{}, nil
		}
		return nil, fmt.Errorf("open response bucket: %w", err)
	}
	defer f.Close()

	var responses []datatypes.MinerResponse
	dec := json.NewDecoder(f)
	for dec.More() {
		var r datatypes.MinerResponse
		if err := dec.Decode(&r); err != nil {
			return nil, fmt.Errorf("decode response bucket %s: %w", jobID, err)
		}
		responses = append(responses, r)
	}
	return responses, nil
}

// Buckets groups a job's responses by claim id, append order preserved
// within each bucket.
func (s *Store) Buckets(ctx context.Context, jobID string) (map[string][]datatypes.MinerResponse, error) {
	responses, err := s.Responses(ctx, jobID)
	if err != nil {
		return nil, err
	}
	buckets := map[string][]datatypes.MinerResponse{}
	for _, r := range responses {
		buckets[r.ClaimID] = append(buckets[r.ClaimID], r)
	}
	return buckets, nil
}

// MarkCancelled flags a job so that later appends are dropped.
func (s *Store) MarkCancelled(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled[jobID] = true
}

// =============================================================================
// Evidence
// =============================================================================

// SaveEvidence persists a job's bundle. A bundle is written exactly once;
// rewriting with the same computation hash is a no-op and a different
// hash is an invariant violation.
func (s *Store) SaveEvidence(ctx context.Context, jobID string, bundle datatypes.EvidenceBundle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := s.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	path := filepath.Join(s.root, "evidence", jobID+".json")
	if existing, err := s.evidenceLocked(path); err == nil {
		if existing.ComputationHash == bundle.ComputationHash {
			return nil
		}
		return fmt.Errorf("%w: evidence for job %s already sealed with hash %s",
			datatypes.ErrInternal, jobID, existing.ComputationHash)
	} else if !os.IsNotExist(err) {
		return err
	}
	return writeJSONAtomic(path, bundle)
}

// Evidence loads a job's sealed bundle.
func (s *Store) Evidence(ctx context.Context, jobID string) (datatypes.EvidenceBundle, error) {
	var bundle datatypes.EvidenceBundle
	if err := ctx.Err(); err != nil {
		return bundle, err
	}
	path := filepath.Join(s.root, "evidence", jobID+".json")
	bundle, err := s.evidenceLocked(path)
	if err != nil {
		if os.IsNotExist(err) {
			return bundle, fmt.Errorf("%w: evidence for job %s", datatypes.ErrNotFound, jobID)
		}
		return bundle, err
	}
	return bundle, nil
}

// EvidenceByProposal returns the most recently sealed bundle among the
// jobs that validated the given proposal version.
func (s *Store) EvidenceByProposal(ctx context.Context, proposalHash string) (datatypes.EvidenceBundle, error) {
	var best datatypes.EvidenceBundle
	jobs, err := s.ListJobs(ctx)
	if err != nil {
		return best, err
	}
	found := false
	for _, job := range jobs {
		if job.ProposalHash != proposalHash {
			continue
		}
		sealed, err := s.Evidence(ctx, job.JobID)
		if errors.Is(err, datatypes.ErrNotFound) {
			continue
		}
		if err != nil {
			return best, err
		}
		// RFC 3339 timestamps order lexicographically.
		if !found || sealed.Timestamp > best.Timestamp {
			best = sealed
			found = true
		}
	}
	if !found {
		return best, fmt.Errorf("%w: evidence for proposal %s", datatypes.ErrNotFound, proposalHash)
	}
	return best, nil
}

func (s *Store) evidenceLocked(path string) (datatypes.EvidenceBundle, error) {
	var bundle datatypes.EvidenceBundle
	err := readJSON(path, &bundle)
	return bundle, err
}

// =============================================================================
// File helpers
// =============================================================================

func writeJSONAtomic(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(raw, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	return os.Rename(tmp.Name(), path)
}

func readJSON(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
