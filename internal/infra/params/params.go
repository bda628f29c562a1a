// Package params implements the governable parameter registry: the
// read-only governance surface the engine's economics are configured from.
//
// Parameters are seeded from the daemon config, overridden by any values a
// governance change has persisted, and handed to the core as immutable
// snapshots. Tasks pin the rates they were created under, so a change here
// never mutates an in-flight round.
package params

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/tally-network/tally/internal/domain"
	"github.com/tally-network/tally/internal/infra/sqlite"
)

// Param is one governable parameter with its current value and metadata.
type Param struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
	ChangedBy   string    `json:"changed_by,omitempty"`
}

// Parameter categories.
const (
	CategoryStaking   = "staking"
	CategoryConsensus = "consensus"
	CategoryFees      = "fees"
	CategoryLimits    = "limits"
)

// def describes one parameter: how to render it from a Params snapshot and
// how to apply a new string value onto one.
type def struct {
	key         string
	category    string
	description string
	render      func(domain.Params) string
	apply       func(*domain.Params, string) error
}

var defs = []def{
	{
		key: "minimum_provider_stake", category: CategoryStaking,
		description: "Smallest collateral a provider may register with",
		render:      func(p domain.Params) string { return domain.FormatAmount(p.MinimumProviderStake) },
		apply: func(p *domain.Params, v string) error {
			amount, err := domain.ParseAmount(v)
			if err != nil {
				return err
			}
			p.MinimumProviderStake = amount
			return nil
		},
	},
	{
		key: "withdrawal_safety_period", category: CategoryStaking,
		description: "Cooldown between initiating and completing a withdrawal",
		render:      func(p domain.Params) string { return p.WithdrawalSafetyPeriod.String() },
		apply: func(p *domain.Params, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("parse duration: %w", err)
			}
			p.WithdrawalSafetyPeriod = d
			return nil
		},
	},
	{
		key: "default_numeric_tolerance_bps", category: CategoryConsensus,
		description: "Default numeric acceptance band width in basis points",
		render:      func(p domain.Params) string { return strconv.FormatInt(p.DefaultNumericToleranceBps, 10) },
		apply:       applyInt64(func(p *domain.Params, v int64) { p.DefaultNumericToleranceBps = v }),
	},
	{
		key: "default_categorical_majority_bps", category: CategoryConsensus,
		description: "Default categorical winning share threshold in basis points",
		render:      func(p domain.Params) string { return strconv.FormatInt(p.DefaultCategoricalMajorityBps, 10) },
		apply:       applyInt64(func(p *domain.Params, v int64) { p.DefaultCategoricalMajorityBps = v }),
	},
	{
		key: "protocol_fee_bps", category: CategoryFees,
		description: "Protocol fee charged on task escrow in basis points",
		render:      func(p domain.Params) string { return strconv.FormatInt(p.ProtocolFeeBps, 10) },
		apply:       applyInt64(func(p *domain.Params, v int64) { p.ProtocolFeeBps = v }),
	},
	{
		key: "slash_rate_bps", category: CategoryFees,
		description: "Share of collateral slashed for a rejected submission in basis points",
		render:      func(p domain.Params) string { return strconv.FormatInt(p.SlashRateBps, 10) },
		apply:       applyInt64(func(p *domain.Params, v int64) { p.SlashRateBps = v }),
	},
	{
		key: "max_providers_per_task", category: CategoryLimits,
		description: "Upper bound on a task's provider quorum",
		render:      func(p domain.Params) string { return strconv.Itoa(p.MaxProvidersPerTask) },
		apply: func(p *domain.Params, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parse int: %w", err)
			}
			p.MaxProvidersPerTask = n
			return nil
		},
	},
	{
		key: "max_submission_window", category: CategoryLimits,
		description: "Longest allowed submission window for a new task",
		render:      func(p domain.Params) string { return p.MaxSubmissionWindow.String() },
		apply: func(p *domain.Params, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("parse duration: %w", err)
			}
			p.MaxSubmissionWindow = d
			return nil
		},
	},
}

func applyInt64(set func(*domain.Params, int64)) func(*domain.Params, string) error {
	return func(p *domain.Params, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parse int: %w", err)
		}
		set(p, n)
		return nil
	}
}

// Registry holds the live parameter set.
type Registry struct {
	mu     sync.RWMutex
	db     *sqlite.DB
	params domain.Params
	meta   map[string]sqlite.StoredParam

	// Injectable clock
	now func() time.Time
}

// NewRegistry seeds a registry from the config-derived parameter set and
// applies any overrides a previous governance change persisted.
func NewRegistry(db *sqlite.DB, seed domain.Params) (*Registry, error) {
	if err := seed.Validate(); err != nil {
		return nil, fmt.Errorf("seed params: %w", err)
	}

	r := &Registry{
		db:     db,
		params: seed,
		meta:   make(map[string]sqlite.StoredParam),
		now:    time.Now,
	}

	stored, err := db.LoadParams()
	if err != nil {
		return nil, fmt.Errorf("load params: %w", err)
	}
	for _, d := range defs {
		s, ok := stored[d.key]
		if !ok {
			continue
		}
		if err := d.apply(&r.params, s.Value); err != nil {
			return nil, fmt.Errorf("stored override %s=%q: %w", d.key, s.Value, err)
		}
		r.meta[d.key] = s
	}
	if err := r.params.Validate(); err != nil {
		return nil, fmt.Errorf("params after overrides: %w", err)
	}
	return r, nil
}

// Snapshot returns the current parameter set by value. The core reads one
// snapshot per operation so a mid-operation change cannot split its view.
func (r *Registry) Snapshot() domain.Params {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.params
}

// Apply changes one parameter. The new value must parse for its key and
// leave the whole set valid; the override is persisted so it survives
// restarts.
func (r *Registry) Apply(key, value, changedBy string) (Param, error) {
	d, ok := defByKey(key)
	if !ok {
		return Param{}, fmt.Errorf("%w: unknown parameter %q", domain.ErrInvalidTaskSpec, key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.params
	if err := d.apply(&next, value); err != nil {
		return Param{}, fmt.Errorf("%w: %s=%q: %v", domain.ErrInvalidTaskSpec, key, value, err)
	}
	if err := next.Validate(); err != nil {
		return Param{}, fmt.Errorf("%w: %s=%q: %v", domain.ErrInvalidTaskSpec, key, value, err)
	}

	now := r.now()
	if err := r.db.SaveParam(key, d.render(next), changedBy, now); err != nil {
		return Param{}, fmt.Errorf("persist %s: %w", key, err)
	}

	r.params = next
	r.meta[key] = sqlite.StoredParam{Value: d.render(next), UpdatedAt: now, ChangedBy: changedBy}
	return r.paramLocked(d), nil
}

// List returns every parameter with its current value, sorted by key.
func (r *Registry) List() []Param {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Param, 0, len(defs))
	for _, d := range defs {
		result = append(result, r.paramLocked(d))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result
}

// Get returns one parameter by key.
func (r *Registry) Get(key string) (Param, error) {
	d, ok := defByKey(key)
	if !ok {
		return Param{}, fmt.Errorf("%w: unknown parameter %q", domain.ErrInvalidTaskSpec, key)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.paramLocked(d), nil
}

func (r *Registry) paramLocked(d def) Param {
	p := Param{
		Key:         d.key,
		Value:       d.render(r.params),
		Category:    d.category,
		Description: d.description,
	}
	if m, ok := r.meta[d.key]; ok {
		p.UpdatedAt = m.UpdatedAt
		p.ChangedBy = m.ChangedBy
	}
	return p
}

func defByKey(key string) (def, bool) {
	for _, d := range defs {
		if d.key == key {
			return d, true
		}
	}
	return def{}, false
}
