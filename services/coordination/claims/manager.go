// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package claims

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/AleutianAI/claimchain/services/coordination/ledger"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// Default lease settings.
const (
	DefaultTTL    = 30 * time.Minute
	DefaultMaxTTL = 24 * time.Hour
)

// LedgerStore is the persistence the manager needs.
//
// *ledger.Store satisfies it.
type LedgerStore interface {
	Read(ctx context.Context) (ledger.Snapshot, error)
	WithLock(ctx context.Context, fn func(ledger.Snapshot) (ledger.Snapshot, error)) error
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Root is the project root used to relativize absolute paths.
	Root string

	// CaseFold lower-cases paths. See DefaultCaseFold.
	CaseFold bool

	// DefaultTTL applies when a request has TTLMinutes == 0. Default: 30m
	DefaultTTL time.Duration

	// MaxTTL caps a lease, including extensions. Default: 24h
	MaxTTL time.Duration

	// Logger for claim events. Default: slog.Default()
	Logger *slog.Logger

	// Now is the clock. Default: time.Now
	Now func() time.Time

	// TracingEnabled turns on OpenTelemetry spans.
	TracingEnabled bool
}

// Manager performs atomic multi-file claims on top of the ledger.
//
// # Description
//
// Every mutation is a single ledger.WithLock cycle, so claims from all
// agents are observed in one total order and the disjointness of active
// chains holds across processes. Expiry is evaluated lazily on every
// call: queries compute the swept view in memory, mutations persist it.
//
// # Thread Safety
//
// Safe for concurrent use.
type Manager struct {
	store      LedgerStore
	normalizer *Normalizer
	validate   *validator.Validate
	config     ManagerConfig
	tracer     *Tracer
	logger     *slog.Logger
}

// NewManager creates a Manager over store.
//
// # Inputs
//
//   - store: The ledger. Required.
//   - config: Manager configuration. Zero values take defaults.
//
// # Outputs
//
//   - *Manager: The manager.
//   - error: Non-nil if store is nil or TTLs are inconsistent.
func NewManager(store LedgerStore, config ManagerConfig) (*Manager, error) {
	if store == nil {
		return nil, errors.New("claims: store is required")
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = DefaultTTL
	}
	if config.MaxTTL <= 0 {
		config.MaxTTL = DefaultMaxTTL
	}
	if config.DefaultTTL > config.MaxTTL {
		return nil, fmt.Errorf("claims: default TTL %s exceeds max TTL %s", config.DefaultTTL, config.MaxTTL)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	logger := config.Logger.With("component", "claims.Manager")

	return &Manager{
		store:      store,
		normalizer: NewNormalizer(config.Root, config.CaseFold),
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		config:     config,
		tracer:     NewTracer(logger, config.TracingEnabled),
		logger:     logger,
	}, nil
}

// Normalizer returns the manager's path normalizer.
func (m *Manager) Normalizer() *Normalizer { return m.normalizer }

// Now returns the manager's current time.
func (m *Manager) Now() time.Time { return m.config.Now().UTC() }

// =============================================================================
// Mutations
// =============================================================================

// ClaimChain reserves every requested file for one agent, or none.
//
// # Description
//
// Normalizes the files, sweeps expired chains, then checks every active
// chain for overlap. Any overlap rejects the whole request with a
// *BlockedError listing each blocking chain and the overlapping files.
// Chains held by the requesting agent block too: one file, one chain.
// Otherwise a single new chain covering all files is appended.
//
// # Inputs
//
//   - ctx: Bounds ledger lock waiting.
//   - req: The request. TTLMinutes == 0 selects the default TTL.
//
// # Outputs
//
//   - *Chain: The new chain.
//   - error: *BlockedError, ErrInvalidRequest/ErrInvalidPath, or a ledger error.
func (m *Manager) ClaimChain(ctx context.Context, req ClaimRequest) (chain *Chain, err error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	ctx, span := m.tracer.Start(ctx, "claim", req.AgentID, attribute.Int("claims.requested", len(req.Files)))
	defer func() { m.tracer.End(span, chain, err) }()

	if err := m.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	files, err := m.normalizer.NormalizeAll(req.Files)
	if err != nil {
		return nil, err
	}
	ttl, err := m.resolveTTL(req.TTLMinutes)
	if err != nil {
		return nil, err
	}

	var (
		created *Chain
		blocked *BlockedError
		swept   int
	)
	err = m.store.WithLock(ctx, func(snap ledger.Snapshot) (ledger.Snapshot, error) {
		chains, err := decodeChains(snap)
		if err != nil {
			return nil, err
		}
		now := m.Now()
		swept = sweepChains(chains, now)

		if blockers := findBlockers(chains, files); len(blockers) > 0 {
			blocked = &BlockedError{
				AgentID:   req.AgentID,
				Requested: files,
				Blocking:  blockers,
				At:        now,
			}
			return persistIfSwept(snap, chains, swept)
		}

		c := Chain{
			ID:         uuid.NewString(),
			AgentID:    req.AgentID,
			Files:      files,
			Reason:     req.Reason,
			CreatedAt:  now,
			TTLMinutes: ttl.Minutes(),
			ExpiresAt:  now.Add(ttl),
			Status:     StatusActive,
		}
		chains = append(chains, c)
		if err := encodeChains(snap, chains); err != nil {
			return nil, err
		}
		created = &c
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	recordExpired(ctx, swept)

	if blocked != nil {
		recordBlocked(ctx, len(blocked.Blocking))
		m.logger.Info("Claim blocked",
			"agent_id", req.AgentID,
			"files", files,
			"blocked_files", blocked.BlockedFiles(),
			"blockers", len(blocked.Blocking),
		)
		return nil, blocked
	}

	recordGranted(ctx, len(created.Files))
	m.logger.Info("Chain claimed",
		"chain_id", created.ID,
		"agent_id", created.AgentID,
		"files", created.Files,
		"ttl_minutes", created.TTLMinutes,
	)
	return created, nil
}

// ReleaseChain marks an active chain released ("gave up").
//
// # Outputs
//
//   - *Chain: The chain after the transition.
//   - error: *ForbiddenError if agentID does not own it, *NotFoundError if
//     it does not exist or is no longer active.
func (m *Manager) ReleaseChain(ctx context.Context, agentID, chainID string) (*Chain, error) {
	return m.finish(ctx, agentID, chainID, StatusReleased)
}

// CompleteChain marks an active chain completed ("finished the work").
//
// Same ownership rules as ReleaseChain.
func (m *Manager) CompleteChain(ctx context.Context, agentID, chainID string) (*Chain, error) {
	return m.finish(ctx, agentID, chainID, StatusCompleted)
}

func (m *Manager) finish(ctx context.Context, agentID, chainID string, to Status) (chain *Chain, err error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	ctx, span := m.tracer.Start(ctx, string(to), agentID, attribute.String("claims.chain_id", chainID))
	defer func() { m.tracer.End(span, chain, err) }()

	var (
		result *Chain
		opErr  error
		swept  int
	)
	err = m.store.WithLock(ctx, func(snap ledger.Snapshot) (ledger.Snapshot, error) {
		chains, err := decodeChains(snap)
		if err != nil {
			return nil, err
		}
		now := m.Now()
		swept = sweepChains(chains, now)

		i, ownErr := ownedActive(chains, agentID, chainID)
		if ownErr != nil {
			opErr = ownErr
			return persistIfSwept(snap, chains, swept)
		}

		chains[i].Status = to
		ended := now
		chains[i].EndedAt = &ended
		if err := encodeChains(snap, chains); err != nil {
			return nil, err
		}
		c := chains[i]
		result = &c
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	recordExpired(ctx, swept)
	if opErr != nil {
		return nil, opErr
	}

	recordFinished(ctx, to, 1)
	m.logger.Info("Chain finished",
		"chain_id", result.ID,
		"agent_id", agentID,
		"status", string(to),
		"files", result.Files,
	)
	return result, nil
}

// ExtendChain renews an active chain's lease by addMinutes.
//
// # Description
//
// The new expiry is the old expiry plus addMinutes. The remaining lease
// after extension may not exceed MaxTTL.
//
// # Outputs
//
//   - *Chain: The chain after extension.
//   - error: *ForbiddenError, *NotFoundError or ErrInvalidRequest.
func (m *Manager) ExtendChain(ctx context.Context, agentID, chainID string, addMinutes float64) (chain *Chain, err error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	ctx, span := m.tracer.Start(ctx, "extend", agentID, attribute.String("claims.chain_id", chainID))
	defer func() { m.tracer.End(span, chain, err) }()

	if addMinutes <= 0 {
		return nil, fmt.Errorf("%w: extension must be positive, got %v minutes", ErrInvalidRequest, addMinutes)
	}
	add := minutesToDuration(addMinutes)

	var (
		result *Chain
		opErr  error
		swept  int
	)
	err = m.store.WithLock(ctx, func(snap ledger.Snapshot) (ledger.Snapshot, error) {
		chains, err := decodeChains(snap)
		if err != nil {
			return nil, err
		}
		now := m.Now()
		swept = sweepChains(chains, now)

		i, ownErr := ownedActive(chains, agentID, chainID)
		if ownErr != nil {
			opErr = ownErr
			return persistIfSwept(snap, chains, swept)
		}

		expires := chains[i].ExpiresAt.Add(add)
		if expires.Sub(now) > m.config.MaxTTL {
			opErr = fmt.Errorf("%w: extended lease of %s exceeds max TTL %s",
				ErrInvalidRequest, expires.Sub(now).Round(time.Second), m.config.MaxTTL)
			return persistIfSwept(snap, chains, swept)
		}
		chains[i].ExpiresAt = expires
		chains[i].TTLMinutes += addMinutes
		if err := encodeChains(snap, chains); err != nil {
			return nil, err
		}
		c := chains[i]
		result = &c
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	recordExpired(ctx, swept)
	if opErr != nil {
		return nil, opErr
	}

	recordExtended(ctx)
	m.logger.Info("Chain extended",
		"chain_id", result.ID,
		"agent_id", agentID,
		"expires_at", result.ExpiresAt,
	)
	return result, nil
}

// ReleaseAgent releases every active chain owned by agentID.
//
// Used by recovery tooling when an agent process is known to be gone.
//
// # Outputs
//
//   - int: Number of chains released.
func (m *Manager) ReleaseAgent(ctx context.Context, agentID string) (int, error) {
	if ctx == nil {
		return 0, ErrNilContext
	}
	if agentID == "" {
		return 0, fmt.Errorf("%w: agent id is required", ErrInvalidRequest)
	}

	var released, swept int
	err := m.store.WithLock(ctx, func(snap ledger.Snapshot) (ledger.Snapshot, error) {
		chains, err := decodeChains(snap)
		if err != nil {
			return nil, err
		}
		now := m.Now()
		swept = sweepChains(chains, now)
		released = 0
		for i := range chains {
			if chains[i].Status == StatusActive && chains[i].AgentID == agentID {
				chains[i].Status = StatusReleased
				ended := now
				chains[i].EndedAt = &ended
				released++
			}
		}
		if released == 0 && swept == 0 {
			return nil, nil
		}
		return snap, encodeChains(snap, chains)
	})
	if err != nil {
		return 0, err
	}
	recordExpired(ctx, swept)
	recordFinished(ctx, StatusReleased, released)
	if released > 0 {
		m.logger.Warn("Released all chains of agent", "agent_id", agentID, "count", released)
	}
	return released, nil
}

// Sweep persists expiry: every active chain past its expiry becomes expired.
//
// Queries already see the swept view without calling this. Sweep only
// makes the file on disk reflect it.
//
// # Outputs
//
//   - int: Number of chains flipped.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	if ctx == nil {
		return 0, ErrNilContext
	}
	// Skip the lock entirely when nothing is due.
	chains, err := m.load(ctx)
	if err != nil {
		return 0, err
	}
	if sweepChains(chains, m.Now()) == 0 {
		return 0, nil
	}

	var swept int
	err = m.store.WithLock(ctx, func(snap ledger.Snapshot) (ledger.Snapshot, error) {
		chains, err := decodeChains(snap)
		if err != nil {
			return nil, err
		}
		swept = sweepChains(chains, m.Now())
		return persistIfSwept(snap, chains, swept)
	})
	if err != nil {
		return 0, err
	}
	recordExpired(ctx, swept)
	if swept > 0 {
		m.logger.Info("Expired chains swept", "count", swept)
	}
	return swept, nil
}

// =============================================================================
// Queries
// =============================================================================

// GetBlockingChains returns every active chain that holds any of files.
func (m *Manager) GetBlockingChains(ctx context.Context, files []string) ([]Chain, error) {
	norm, err := m.normalizer.NormalizeAll(files)
	if err != nil {
		return nil, err
	}
	chains, err := m.activeView(ctx)
	if err != nil {
		return nil, err
	}
	blockers := findBlockers(chains, norm)
	out := make([]Chain, 0, len(blockers))
	for _, b := range blockers {
		out = append(out, b.Chain)
	}
	return out, nil
}

// GetClaimForFile returns the active chain covering path, or nil.
func (m *Manager) GetClaimForFile(ctx context.Context, path string) (*Chain, error) {
	norm, err := m.normalizer.Normalize(path)
	if err != nil {
		return nil, err
	}
	chains, err := m.activeView(ctx)
	if err != nil {
		return nil, err
	}
	for i := range chains {
		if chains[i].Covers(norm) {
			c := chains[i]
			return &c, nil
		}
	}
	return nil, nil
}

// GetAgentChains returns the active chains owned by agentID.
func (m *Manager) GetAgentChains(ctx context.Context, agentID string) ([]Chain, error) {
	chains, err := m.activeView(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Chain, 0)
	for _, c := range chains {
		if c.AgentID == agentID {
			out = append(out, c)
		}
	}
	return out, nil
}

// GetAllActiveChains returns every active chain in claim order.
func (m *Manager) GetAllActiveChains(ctx context.Context) ([]Chain, error) {
	return m.activeView(ctx)
}

// History returns every chain of agentID in any status, oldest first.
// An empty agentID returns all chains.
func (m *Manager) History(ctx context.Context, agentID string) ([]Chain, error) {
	chains, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	sweepChains(chains, m.Now())
	out := make([]Chain, 0, len(chains))
	for _, c := range chains {
		if agentID == "" || c.AgentID == agentID {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// activeView reads the ledger and returns the swept active chains.
// Nothing is written.
func (m *Manager) activeView(ctx context.Context) ([]Chain, error) {
	chains, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	sweepChains(chains, m.Now())
	out := make([]Chain, 0, len(chains))
	for _, c := range chains {
		if c.Status == StatusActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Manager) load(ctx context.Context) ([]Chain, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	snap, err := m.store.Read(ctx)
	if err != nil {
		return nil, err
	}
	return decodeChains(snap)
}

func (m *Manager) resolveTTL(minutes float64) (time.Duration, error) {
	if minutes == 0 {
		return m.config.DefaultTTL, nil
	}
	ttl := minutesToDuration(minutes)
	if ttl <= 0 {
		return 0, fmt.Errorf("%w: ttl of %v minutes is too short", ErrInvalidRequest, minutes)
	}
	if ttl > m.config.MaxTTL {
		return 0, fmt.Errorf("%w: ttl %s exceeds max %s", ErrInvalidRequest, ttl, m.config.MaxTTL)
	}
	return ttl, nil
}

// =============================================================================
// Pure helpers
// =============================================================================

// sweepChains flips every active chain expired at now. Returns the count.
func sweepChains(chains []Chain, now time.Time) int {
	n := 0
	for i := range chains {
		if chains[i].Status == StatusActive && chains[i].IsExpired(now) {
			chains[i].Status = StatusExpired
			ended := chains[i].ExpiresAt
			chains[i].EndedAt = &ended
			n++
		}
	}
	return n
}

// findBlockers returns each active chain overlapping files, with the overlap.
func findBlockers(chains []Chain, files []string) []Blocker {
	want := make(map[string]bool, len(files))
	for _, f := range files {
		want[f] = true
	}
	var out []Blocker
	for _, c := range chains {
		if c.Status != StatusActive {
			continue
		}
		var overlap []string
		for _, f := range c.Files {
			if want[f] {
				overlap = append(overlap, f)
			}
		}
		if len(overlap) > 0 {
			sort.Strings(overlap)
			out = append(out, Blocker{Chain: c, Files: overlap})
		}
	}
	return out
}

// ownedActive locates chainID and checks agentID may transition it.
func ownedActive(chains []Chain, agentID, chainID string) (int, error) {
	for i := range chains {
		if chains[i].ID != chainID {
			continue
		}
		if chains[i].AgentID != agentID {
			return -1, &ForbiddenError{ChainID: chainID, AgentID: agentID, OwnerID: chains[i].AgentID}
		}
		if chains[i].Status != StatusActive {
			return -1, &NotFoundError{ChainID: chainID, Status: chains[i].Status}
		}
		return i, nil
	}
	return -1, &NotFoundError{ChainID: chainID}
}

func decodeChains(snap ledger.Snapshot) ([]Chain, error) {
	var chains []Chain
	if _, err := snap.Decode(CollectionKey, &chains); err != nil {
		return nil, err
	}
	return chains, nil
}

func encodeChains(snap ledger.Snapshot, chains []Chain) error {
	if chains == nil {
		chains = []Chain{}
	}
	return snap.Encode(CollectionKey, chains)
}

// persistIfSwept writes the sweep when it changed anything, else nothing.
func persistIfSwept(snap ledger.Snapshot, chains []Chain, swept int) (ledger.Snapshot, error) {
	if swept == 0 {
		return nil, nil
	}
	if err := encodeChains(snap, chains); err != nil {
		return nil, err
	}
	return snap, nil
}

func minutesToDuration(minutes float64) time.Duration {
	return time.Duration(minutes * float64(time.Minute))
}
