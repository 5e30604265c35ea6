// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator fans claims out to miners and collects their
// responses into the store.
//
// # Scheduling
//
// One work item per (claim, miner slot). Items enter a FIFO channel in
// claim-major order and a fixed pool of workers drains it, so the
// concurrency cap is never exceeded and no work is silently dropped.
// Each slot is pinned to a distinct miner from the roster when one is
// available.
//
// # Job state machine
//
//	queued -> running -> (completed | partial | failed)
//
// A claim is accepted as soon as it has quorum valid responses; late
// responses for the same claim still land in the bucket for richer
// statistics. ClaimsValidated only ever increases. An auth failure
// before any miner has answered fails the whole job, since credentials
// will not get better by retrying other miners.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/OracleFOSS/services/oracle/datatypes"
	"github.com/AleutianAI/OracleFOSS/services/oracle/gateway"
	"github.com/AleutianAI/OracleFOSS/services/oracle/observability"
	"github.com/AleutianAI/OracleFOSS/services/oracle/store"
)

// Orchestrator runs validation jobs.
//
// Thread Safety: safe for concurrent use. Each job has exactly one
// writer (the Run invocation that owns it); state mutations go through
// the per-run lock.
type Orchestrator struct {
	gateway gateway.Gateway
	store   *store.Store
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	subs    map[string][]chan datatypes.JobState
}

// New creates an orchestrator. A nil logger disables logging.
func New(gw gateway.Gateway, st *store.Store, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{
		gateway: gw,
		store:   st,
		logger:  logger,
		now:     time.Now,
		cancels: map[string]context.CancelFunc{},
		subs:    map[string][]chan datatypes.JobState{},
	}
}

// =============================================================================
// Job Creation
// =============================================================================

// CreateJob persists a queued job scoped to the given claim ids.
func (o *Orchestrator) CreateJob(ctx context.Context, version datatypes.ProposalVersion, claimIDs []string, cfg datatypes.JobConfig) (datatypes.JobState, error) {
	if err := cfg.Validate(); err != nil {
		return datatypes.JobState{}, fmt.Errorf("%w: %s", datatypes.ErrInvalidInput, err)
	}
	for _, id := range claimIDs {
		if version.ClaimByID(id) == nil {
			return datatypes.JobState{}, fmt.Errorf("%w: claim %s not in version %s",
				datatypes.ErrInvalidInput, id, version.ProposalHash)
		}
	}

	now := o.now().UTC()
	state := datatypes.JobState{
		JobID:         uuid.NewString(),
		ProposalHash:  version.ProposalHash,
		ProposalID:    version.ProposalID,
		VersionNumber: version.VersionNumber,
		Status:        datatypes.JobQueued,
		Config:        cfg,
		ClaimIDs:      claimIDs,
		ClaimsTotal:   len(claimIDs),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := o.store.SaveJob(ctx, state); err != nil {
		return datatypes.JobState{}, err
	}
	o.logger.Info("job created",
		slog.String("job_id", state.JobID),
		slog.String("proposal_hash", state.ProposalHash),
		slog.Int("claims", state.ClaimsTotal))
	return state, nil
}

// =============================================================================
// Execution
// =============================================================================

// jobRun is the mutable state of one Run invocation.
type jobRun struct {
	mu          sync.Mutex
	state       datatypes.JobState
	validCounts map[string]int
	quorumAt    map[string]bool
	successSeen bool
	authFatal   bool
}

// Run executes a queued job to a terminal state and returns it.
// Running an already-terminal job is a no-op returning the stored state.
func (o *Orchestrator) Run(ctx context.Context, jobID string) (datatypes.JobState, error) {
	state, err := o.store.Job(ctx, jobID)
	if err != nil {
		return datatypes.JobState{}, err
	}
	if state.Status.Terminal() {
		return state, nil
	}
	version, err := o.store.Proposal(ctx, state.ProposalHash)
	if err != nil {
		return o.failJob(ctx, state, err)
	}
	claims := make([]datatypes.Claim, 0, len(state.ClaimIDs))
	for _, id := range state.ClaimIDs {
		c := version.ClaimByID(id)
		if c == nil {
			return o.failJob(ctx, state, fmt.Errorf("%w: claim %s missing from stored version", datatypes.ErrInternal, id))
		}
		claims = append(claims, *c)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.mu.Lock()
	o.cancels[jobID] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.cancels, jobID)
		o.mu.Unlock()
	}()

	run := &jobRun{
		state:       state,
		validCounts: map[string]int{},
		quorumAt:    map[string]bool{},
	}
	run.state.Status = datatypes.JobRunning
	o.saveState(run)

	if len(claims) > 0 {
		o.fanOut(runCtx, run, claims)
	}
	// runCtx reflects both external cancellation and Cancel(); settle
	// reads it to distinguish cancelled from quorum-based outcomes.
	return o.settle(runCtx, run)
}

// Start runs a job in a background goroutine.
func (o *Orchestrator) Start(jobID string) {
	go func() {
		if _, err := o.Run(context.Background(), jobID); err != nil {
			o.logger.Error("job run failed",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()))
		}
	}()
}

// workItem is one (claim, miner slot) delegation.
type workItem struct {
	claim datatypes.Claim
	slot  int
}

func (o *Orchestrator) fanOut(ctx context.Context, run *jobRun, claims []datatypes.Claim) {
	cfg := run.state.Config

	roster := o.roster(ctx, cfg.MinerCount)

	limit := cfg.MaxInFlight
	if limit <= 0 || limit > len(claims)*cfg.MinerCount {
		limit = len(claims) * cfg.MinerCount
	}

	workCh := make(chan workItem)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < limit; w++ {
		g.Go(func() error {
			for item := range workCh {
				if err := o.runSlot(gctx, run, item, roster); err != nil {
					return err
				}
			}
			return nil
		})
	}

	// Claim-major FIFO: all slots of claim i are queued before claim i+1.
feed:
	for _, claim := range claims {
		observability.DefaultMetrics.ClaimStarted()
		for slot := 0; slot < cfg.MinerCount; slot++ {
			select {
			case workCh <- workItem{claim: claim, slot: slot}:
			case <-gctx.Done():
				observability.DefaultMetrics.ClaimFinished()
				break feed
			}
		}
		observability.DefaultMetrics.ClaimFinished()
	}
	close(workCh)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		o.logger.Warn("fan-out stopped early",
			slog.String("job_id", run.state.JobID),
			slog.String("error", err.Error()))
	}
}

// roster fetches up to k distinct miner ids, best effort. An empty
// roster leaves slots unpinned and the gateway free to choose.
func (o *Orchestrator) roster(ctx context.Context, k int) []string {
	miners, err := o.gateway.ListMiners(ctx)
	if err != nil || len(miners) == 0 {
		return nil
	}
	ids := make([]string, 0, k)
	for i := 0; i < len(miners) && i < k; i++ {
		ids = append(ids, miners[i].MinerID)
	}
	return ids
}

// runSlot performs one delegation and persists its outcome. The returned
// error is non-nil only for job-fatal conditions.
func (o *Orchestrator) runSlot(ctx context.Context, run *jobRun, item workItem, roster []string) error {
	cfg := run.state.Config
	var minerID string
	if len(roster) > 0 {
		minerID = roster[item.slot%len(roster)]
	}

	run.mu.Lock()
	run.state.MinersContacted++
	run.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, cfg.MinerTimeout)
	defer cancel()

	started := o.now()
	result, err := o.gateway.Delegate(callCtx, gateway.DelegateRequest{
		Prompt:           validationPrompt(item.claim),
		K:                1,
		MaxTokens:        768,
		Temperature:      0.2,
		ClaimID:          item.claim.ID,
		ClaimHasExtracts: hasExtracts(item.claim),
		MinerID:          minerID,
	})
	elapsed := o.now().Sub(started).Seconds()

	if err != nil {
		class := datatypes.ErrorClass(err)
		observability.DefaultMetrics.RecordDelegation(class, elapsed)

		if errors.Is(err, datatypes.ErrAuthFailure) {
			run.mu.Lock()
			fatal := !run.successSeen
			if fatal {
				run.authFatal = true
			}
			run.mu.Unlock()
			if fatal {
				o.logger.Error("auth failure before any response, failing job",
					slog.String("job_id", run.state.JobID))
				return err
			}
		}
		o.persist(run, skeletonResponse(minerID, item.claim.ID, class, o.now().UTC()))
		return nil
	}

	observability.DefaultMetrics.RecordDelegation("ok", elapsed)
	run.mu.Lock()
	run.successSeen = true
	run.mu.Unlock()

	for _, reply := range result.MinerResponses {
		o.persist(run, replyToResponse(reply, item.claim.ID, o.now().UTC()))
	}
	return nil
}

// persist appends one response and advances the observable counters.
func (o *Orchestrator) persist(run *jobRun, response datatypes.MinerResponse) {
	// Persistence must survive the run context being cancelled by a
	// sibling failure; the store drops writes for cancelled jobs itself.
	err := o.store.AppendResponses(context.Background(), run.state.JobID, []datatypes.MinerResponse{response})
	if err != nil {
		o.logger.Error("append response failed",
			slog.String("job_id", run.state.JobID),
			slog.String("claim_id", response.ClaimID),
			slog.String("error", err.Error()))
		return
	}
	observability.DefaultMetrics.RecordResponse(response.Failed)

	run.mu.Lock()
	valid := !response.Failed && datatypes.ValidVerdict(response.Verdict)
	if valid {
		run.state.MinersResponded++
		run.validCounts[response.ClaimID]++
		if run.validCounts[response.ClaimID] >= run.state.Config.MinerQuorum && !run.quorumAt[response.ClaimID] {
			run.quorumAt[response.ClaimID] = true
			run.state.ClaimsValidated++
		}
	}
	run.mu.Unlock()

	o.saveState(run)
}

// settle computes the terminal state once fan-out has drained.
func (o *Orchestrator) settle(ctx context.Context, run *jobRun) (datatypes.JobState, error) {
	run.mu.Lock()
	defer run.mu.Unlock()

	requested := run.state.ClaimsTotal * run.state.Config.MinerCount
	run.state.MissingMiners = requested - run.state.MinersResponded
	if requested > 0 {
		run.state.ConfidenceAdjustment = min(1, float64(run.state.MinersResponded)/float64(requested))
	} else {
		run.state.ConfidenceAdjustment = 1
	}

	quorumClaims := len(run.quorumAt)
	switch {
	case run.authFatal:
		run.state.Status = datatypes.JobFailed
		run.state.Error = datatypes.ErrorClass(datatypes.ErrAuthFailure)
	case ctx.Err() != nil:
		run.state.Status = datatypes.JobFailed
		run.state.Error = "cancelled"
	case quorumClaims == run.state.ClaimsTotal:
		run.state.Status = datatypes.JobCompleted
	case quorumClaims > 0:
		run.state.Status = datatypes.JobPartial
	default:
		run.state.Status = datatypes.JobFailed
		run.state.Error = datatypes.ErrorClass(datatypes.ErrQuorumNotReached)
	}

	run.state.UpdatedAt = o.now().UTC()
	if err := o.store.SaveJob(context.Background(), run.state); err != nil {
		return run.state, err
	}
	o.publish(run.state)

	duration := run.state.UpdatedAt.Sub(run.state.CreatedAt).Seconds()
	observability.DefaultMetrics.RecordJobSettled(string(run.state.Status), duration)
	o.logger.Info("job settled",
		slog.String("job_id", run.state.JobID),
		slog.String("status", string(run.state.Status)),
		slog.Int("claims_validated", run.state.ClaimsValidated),
		slog.Int("miners_responded", run.state.MinersResponded))
	return run.state, nil
}

func (o *Orchestrator) failJob(ctx context.Context, state datatypes.JobState, cause error) (datatypes.JobState, error) {
	state.Status = datatypes.JobFailed
	state.Error = datatypes.ErrorClass(cause)
	state.UpdatedAt = o.now().UTC()
	if err := o.store.SaveJob(ctx, state); err != nil {
		return state, err
	}
	o.publish(state)
	return state, cause
}

func (o *Orchestrator) saveState(run *jobRun) {
	run.mu.Lock()
	run.state.UpdatedAt = o.now().UTC()
	snapshot := run.state
	run.mu.Unlock()

	if err := o.store.SaveJob(context.Background(), snapshot); err != nil {
		o.logger.Error("save job state failed",
			slog.String("job_id", snapshot.JobID),
			slog.String("error", err.Error()))
	}
	o.publish(snapshot)
}

// =============================================================================
// Cancellation
// =============================================================================

// Cancel stops a running job. Responses arriving afterwards are dropped;
// the job settles as failed with reason "cancelled".
func (o *Orchestrator) Cancel(jobID string) {
	o.store.MarkCancelled(jobID)
	o.mu.Lock()
	cancel := o.cancels[jobID]
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	o.logger.Info("job cancellation requested", slog.String("job_id", jobID))
}

// =============================================================================
// Progress Subscriptions
// =============================================================================

// Subscribe returns a channel of job state snapshots and a release
// function. Snapshots are dropped, not queued, when the subscriber lags.
func (o *Orchestrator) Subscribe(jobID string) (<-chan datatypes.JobState, func()) {
	ch := make(chan datatypes.JobState, 16)
	o.mu.Lock()
	o.subs[jobID] = append(o.subs[jobID], ch)
	o.mu.Unlock()

	release := func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		channels := o.subs[jobID]
		for i, c := range channels {
			if c == ch {
				o.subs[jobID] = append(channels[:i], channels[i+1:]...)
				break
			}
		}
	}
	return ch, release
}

func (o *Orchestrator) publish(state datatypes.JobState) {
	o.mu.Lock()
	channels := append([]chan datatypes.JobState(nil), o.subs[state.JobID]...)
	o.mu.Unlock()
	for _, ch := range channels {
		select {
		case ch <- state:
		default:
		}
	}
}

// =============================================================================
// Response Shaping
// =============================================================================

func replyToResponse(reply gateway.MinerReply, claimID string, receivedAt time.Time) datatypes.MinerResponse {
	if !reply.Parsed {
		return skeletonResponse(reply.MinerID, claimID, "unparseable_reply", receivedAt)
	}
	return datatypes.MinerResponse{
		MinerID:       reply.MinerID,
		ClaimID:       claimID,
		Verdict:       reply.Verdict,
		Rationale:     reply.Rationale,
		EvidenceLinks: reply.EvidenceLinks,
		Scores:        reply.Scores,
		Embedding:     reply.Embedding,
		LatencyMs:     reply.LatencyMs,
		ReceivedAt:    receivedAt,
	}
}

// skeletonResponse records a miner miss so coverage accounting still sees
// the slot.
func skeletonResponse(minerID, claimID, reason string, receivedAt time.Time) datatypes.MinerResponse {
	return datatypes.MinerResponse{
		MinerID:       minerID,
		ClaimID:       claimID,
		ReceivedAt:    receivedAt,
		Failed:        true,
		FailureReason: reason,
	}
}

// =============================================================================
// Prompt
// =============================================================================

func hasExtracts(claim datatypes.Claim) bool {
	return len(claim.Canonical.Numbers) > 0 || len(claim.Canonical.Addresses) > 0
}

// validationPrompt asks a miner for a rubric assessment of one claim.
func validationPrompt(claim datatypes.Claim) string {
	var b strings.Builder
	b.WriteString("Assess the following governance proposal claim.\n\n")
	b.WriteString("Claim: ")
	b.WriteString(claim.Text)
	b.WriteString("\n\n")
	if len(claim.Canonical.Numbers) > 0 || len(claim.Canonical.Addresses) > 0 || len(claim.Canonical.URLs) > 0 {
		b.WriteString("Extracted facts to verify:\n")
		for _, n := range claim.Canonical.Numbers {
			fmt.Fprintf(&b, "- number: %g\n", n)
		}
		for _, a := range claim.Canonical.Addresses {
			fmt.Fprintf(&b, "- address: %s\n", a)
		}
		for _, u := range claim.Canonical.URLs {
			fmt.Fprintf(&b, "- url: %s\n", u)
		}
		b.WriteString("\n")
	}
	b.WriteString(`Reply with a single JSON object:
{"verdict": "verified|refuted|unverifiable|partial", "rationale": "...",
 "evidence_links": [], "scores": {"accuracy": 0.0, "omission_risk": 0.0,
 "evidence_quality": 0.0, "governance_relevance": 0.0}}`)
	return b.String()
}
