// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package versiongraph maintains proposal identity across edits.
//
// Each registered version is content-addressed by its proposal hash and
// chained to its predecessor. The graph answers three questions: which
// proposal does this text belong to, what version number is it, and which
// claims changed since the last version (and therefore must be validated
// again).
//
// # Persistence
//
// Three key families in BadgerDB:
//
//	vg:hash:<proposal_hash>        -> full ProposalVersion JSON
//	vg:head:<proposal_id>          -> hash of the latest version
//	vg:ver:<proposal_id>:<number>  -> hash of that version
//
// The hash key is the authority; head and ver entries are pointers into
// it. All three are written in one transaction.
package versiongraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/OracleFOSS/services/oracle/datatypes"
	badgerstore "github.com/AleutianAI/OracleFOSS/services/oracle/store/badger"
)

const (
	hashKeyPrefix = "vg:hash:"
	headKeyPrefix = "vg:head:"
	verKeyPrefix  = "vg:ver:"
)

// Graph is the badger-backed version graph.
type Graph struct {
	db     *badgerstore.DB
	logger *slog.Logger
	now    func() time.Time
}

// New creates a version graph over db. A nil logger disables logging.
func New(db *badgerstore.DB, logger *slog.Logger) *Graph {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Graph{db: db, logger: logger, now: time.Now}
}

// Register records a canonicalized proposal version and assigns its
// identity.
//
// Idempotency: re-registering an already known proposal hash returns the
// stored version unchanged, with the same id and version number. A new
// proposal id is minted only when previousID is empty; otherwise the
// version chains onto previousID's head and gets its number plus one.
//
// The second return value is the predecessor version (nil for v1), so the
// caller can diff claim sets without a separate lookup.
func (g *Graph) Register(ctx context.Context, proposalHash, uri, canonicalText string, claims []datatypes.Claim, previousID string) (datatypes.ProposalVersion, *datatypes.ProposalVersion, error) {
	var (
		version  datatypes.ProposalVersion
		previous *datatypes.ProposalVersion
	)
	err := g.db.WithTxn(ctx, func(txn *badger.Txn) error {
		// Content-addressed idempotency check.
		stored, err := getVersion(txn, hashKeyPrefix+proposalHash)
		if err == nil {
			if previousID != "" && stored.ProposalID != previousID {
				return fmt.Errorf("%w: hash %s already registered under proposal %s",
					datatypes.ErrInvalidInput, proposalHash, stored.ProposalID)
			}
			version = stored
			if stored.PreviousHash != "" {
				prev, err := getVersion(txn, hashKeyPrefix+stored.PreviousHash)
				if err != nil {
					return err
				}
				previous = &prev
			}
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		version = datatypes.ProposalVersion{
			ProposalHash:  proposalHash,
			URI:           uri,
			CanonicalText: canonicalText,
			Claims:        claims,
			RegisteredAt:  g.now().UTC(),
		}
		if previousID == "" {
			version.ProposalID = uuid.NewString()
			version.VersionNumber = 1
		} else {
			headHash, err := getString(txn, headKeyPrefix+previousID)
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					return fmt.Errorf("%w: unknown proposal id %s", datatypes.ErrNotFound, previousID)
				}
				return err
			}
			head, err := getVersion(txn, hashKeyPrefix+headHash)
			if err != nil {
				return err
			}
			version.ProposalID = previousID
			version.VersionNumber = head.VersionNumber + 1
			version.PreviousHash = head.ProposalHash
			previous = &head
		}

		raw, err := json.Marshal(version)
		if err != nil {
			return fmt.Errorf("marshal version: %w", err)
		}
		if err := txn.Set([]byte(hashKeyPrefix+proposalHash), raw); err != nil {
			return err
		}
		if err := txn.Set([]byte(headKeyPrefix+version.ProposalID), []byte(proposalHash)); err != nil {
			return err
		}
		verKey := fmt.Sprintf("%s%s:%06d", verKeyPrefix, version.ProposalID, version.VersionNumber)
		return txn.Set([]byte(verKey), []byte(proposalHash))
	})
	if err != nil {
		return datatypes.ProposalVersion{}, nil, err
	}

	g.logger.Info("registered proposal version",
		slog.String("proposal_id", version.ProposalID),
		slog.Int("version", version.VersionNumber),
		slog.String("hash", version.ProposalHash))
	return version, previous, nil
}

// ByHash returns the version stored for a proposal hash.
func (g *Graph) ByHash(ctx context.Context, proposalHash string) (datatypes.ProposalVersion, error) {
	var version datatypes.ProposalVersion
	err := g.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		v, err := getVersion(txn, hashKeyPrefix+proposalHash)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: proposal hash %s", datatypes.ErrNotFound, proposalHash)
			}
			return err
		}
		version = v
		return nil
	})
	return version, err
}

// Head returns the latest version of a proposal.
func (g *Graph) Head(ctx context.Context, proposalID string) (datatypes.ProposalVersion, error) {
	var version datatypes.ProposalVersion
	err := g.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		headHash, err := getString(txn, headKeyPrefix+proposalID)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: proposal id %s", datatypes.ErrNotFound, proposalID)
			}
			return err
		}
		v, err := getVersion(txn, hashKeyPrefix+headHash)
		if err != nil {
			return err
		}
		version = v
		return nil
	})
	return version, err
}

// Version returns one specific version of a proposal.
func (g *Graph) Version(ctx context.Context, proposalID string, number int) (datatypes.ProposalVersion, error) {
	var version datatypes.ProposalVersion
	err := g.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		verKey := fmt.Sprintf("%s%s:%06d", verKeyPrefix, proposalID, number)
		hash, err := getString(txn, verKey)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: proposal %s version %d", datatypes.ErrNotFound, proposalID, number)
			}
			return err
		}
		v, err := getVersion(txn, hashKeyPrefix+hash)
		if err != nil {
			return err
		}
		version = v
		return nil
	})
	return version, err
}

func getString(txn *badger.Txn, key string) (string, error) {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return "", err
	}
	var out string
	err = item.Value(func(val []byte) error {
		out = string(val)
		return nil
	})
	return out, err
}

func getVersion(txn *badger.Txn, key string) (datatypes.ProposalVersion, error) {
	var version datatypes.ProposalVersion
	item, err := txn.Get([]byte(key))
	if err != nil {
		return version, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &version)
	})
	return version, err
}
