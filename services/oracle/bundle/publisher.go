// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bundle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/AleutianAI/OracleFOSS/services/oracle/datatypes"
)

// Publisher takes a sealed bundle to an external sink. Implementations
// must be idempotent keyed on the computation hash: publishing the same
// bundle twice yields the same receipt and no duplicate side effect.
type Publisher interface {
	Publish(ctx context.Context, b datatypes.EvidenceBundle) (datatypes.PublishReceipt, error)
}

// FilesystemPublisher writes bundles to a directory, named by their
// computation hash, and returns the hash as a pseudo-cid. It stands in
// for IPFS or on-chain sinks in local deployments; the content hash is
// authoritative either way.
type FilesystemPublisher struct {
	Dir    string
	Logger *slog.Logger
}

// Publish writes <dir>/<computation_hash>.json unless it already exists.
func (p *FilesystemPublisher) Publish(ctx context.Context, b datatypes.EvidenceBundle) (datatypes.PublishReceipt, error) {
	if err := ctx.Err(); err != nil {
		return datatypes.PublishReceipt{}, err
	}
	if b.ComputationHash == "" {
		return datatypes.PublishReceipt{}, fmt.Errorf("%w: refusing to publish unsealed bundle", datatypes.ErrInvalidInput)
	}
	if err := os.MkdirAll(p.Dir, 0750); err != nil {
		return datatypes.PublishReceipt{}, fmt.Errorf("create publish directory: %w", err)
	}

	receipt := datatypes.PublishReceipt{CID: b.ComputationHash}
	path := filepath.Join(p.Dir, b.ComputationHash+".json")
	if _, err := os.Stat(path); err == nil {
		return receipt, nil
	}

	raw, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return datatypes.PublishReceipt{}, fmt.Errorf("marshal bundle: %w", err)
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0640); err != nil {
		return datatypes.PublishReceipt{}, fmt.Errorf("write bundle: %w", err)
	}
	if p.Logger != nil {
		p.Logger.Info("bundle published",
			slog.String("job_id", b.JobID),
			slog.String("computation_hash", b.ComputationHash),
			slog.String("path", path))
	}
	return receipt, nil
}

// NopPublisher acknowledges without side effects, for runs with no sink
// configured.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, b datatypes.EvidenceBundle) (datatypes.PublishReceipt, error) {
	return datatypes.PublishReceipt{CID: b.ComputationHash}, nil
}
