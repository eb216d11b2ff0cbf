// Package reservoir buffers per-tab results until every replicate sheet of a
// (run, analyte) group has been processed, then hands each complete group to
// a GroupWriter and forgets it.
package reservoir

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/DavoGrant/LuminexDataPipeline/internal/errors"
	"github.com/DavoGrant/LuminexDataPipeline/pkg/contracts/domain"
)

// DuplicatePolicy decides what Add does with a key that is already buffered.
type DuplicatePolicy string

const (
	DuplicateReject    DuplicatePolicy = "reject"
	DuplicateOverwrite DuplicatePolicy = "overwrite"
)

// LeftoverPolicy decides what FinalCheck does with incomplete groups.
type LeftoverPolicy string

const (
	LeftoverError LeftoverPolicy = "error"
	LeftoverLog   LeftoverPolicy = "log"
)

// GroupWriter persists one flushed group. It must either write the whole
// column or return an error and leave the target untouched.
type GroupWriter interface {
	WriteGroup(ctx context.Context, group domain.FlushedGroup) error
}

// GroupWriterFunc adapts a function to GroupWriter.
type GroupWriterFunc func(ctx context.Context, group domain.FlushedGroup) error

// WriteGroup calls f.
func (f GroupWriterFunc) WriteGroup(ctx context.Context, group domain.FlushedGroup) error {
	return f(ctx, group)
}

// Options configures a Reservoir.
type Options struct {
	// Required is the replicate count R that makes a group complete.
	Required   int
	Duplicates DuplicatePolicy
	Leftovers  LeftoverPolicy
	// Writer receives each complete group. When nil, flushed groups are only returned.
	Writer GroupWriter
	Logger *slog.Logger
	// Now stamps flushed groups; defaults to time.Now.
	Now func() time.Time
}

// GroupStatus describes a buffered, not yet complete group.
type GroupStatus struct {
	Key        domain.GroupKey `json:"key"`
	Replicates []int           `json:"replicates"`
	Required   int             `json:"required"`
}

func (s GroupStatus) String() string {
	reps := make([]string, len(s.Replicates))
	for i, r := range s.Replicates {
		reps[i] = fmt.Sprint(r)
	}
	return fmt.Sprintf("%s (%d/%d: replicates %s)", s.Key, len(s.Replicates), s.Required, strings.Join(reps, ","))
}

// Reservoir is the exclusive owner of every buffered tab result. Entries
// leave the buffer only through a successful group flush.
type Reservoir struct {
	mu       sync.Mutex
	opts     Options
	logger   *slog.Logger
	entries  map[domain.ReplicateKey]domain.ResultSeries
	released map[domain.ReplicateKey]struct{}
	complete map[domain.GroupKey]struct{}
}

// New creates an empty reservoir.
func New(opts Options) (*Reservoir, error) {
	if opts.Required < 1 {
		return nil, apperrors.NewConfigError(fmt.Sprintf("required replicates must be positive, got %d", opts.Required), nil)
	}
	switch opts.Duplicates {
	case "":
		opts.Duplicates = DuplicateReject
	case DuplicateReject, DuplicateOverwrite:
	default:
		return nil, apperrors.NewConfigError(fmt.Sprintf("unknown duplicate policy %q", opts.Duplicates), nil)
	}
	switch opts.Leftovers {
	case "":
		opts.Leftovers = LeftoverError
	case LeftoverError, LeftoverLog:
	default:
		return nil, apperrors.NewConfigError(fmt.Sprintf("unknown leftover policy %q", opts.Leftovers), nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Reservoir{
		opts:     opts,
		logger:   logger.With("component", "reservoir"),
		entries:  make(map[domain.ReplicateKey]domain.ResultSeries),
		released: make(map[domain.ReplicateKey]struct{}),
		complete: make(map[domain.GroupKey]struct{}),
	}, nil
}

// Required returns the configured replicate count.
func (r *Reservoir) Required() int {
	return r.opts.Required
}

// Add buffers the series of one processed tab. A key that was already
// flushed is always rejected, as is any new replicate of a flushed group.
// A key that is still buffered is rejected unless the overwrite policy is
// configured.
func (r *Reservoir) Add(key domain.ReplicateKey, series domain.ResultSeries) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.released[key]; ok {
		return apperrors.NewReservoirIntegrityError(
			fmt.Sprintf("%s was already flushed", key), apperrors.ErrDuplicateEntry).
			WithContext("key", key.String())
	}

	if _, ok := r.complete[key.Group()]; ok {
		return apperrors.NewReservoirIntegrityError(
			fmt.Sprintf("%s: group %s already flushed with %d replicates", key, key.Group(), r.opts.Required),
			apperrors.ErrGroupOverflow).
			WithContext("key", key.String()).
			WithContext("group", key.Group().String())
	}

	if _, ok := r.entries[key]; ok {
		if r.opts.Duplicates != DuplicateOverwrite {
			return apperrors.NewReservoirIntegrityError(
				fmt.Sprintf("%s is already buffered", key), apperrors.ErrDuplicateEntry).
				WithContext("key", key.String())
		}
		r.logger.Warn("Overwriting buffered result",
			slog.String("key", key.String()),
			slog.Int("samples", series.Len()))
	}

	points := make([]domain.SamplePoint, len(series.Points))
	copy(points, series.Points)
	r.entries[key] = domain.ResultSeries{Points: points}

	r.logger.Debug("Result buffered",
		slog.String("key", key.String()),
		slog.Int("samples", series.Len()),
		slog.Int("buffered", len(r.entries)))

	return nil
}

// FlushReady hands every group with exactly Required members to the writer,
// in (run, analyte) order, and removes a group only after its write
// succeeded. Groups flushed before a failing write stay flushed.
func (r *Reservoir) FlushReady(ctx context.Context) ([]domain.FlushedGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	groups := r.groupLocked()

	keys := make([]domain.GroupKey, 0, len(groups))
	for k, members := range groups {
		if len(members) > r.opts.Required {
			return nil, apperrors.NewReservoirIntegrityError(
				fmt.Sprintf("group %s has %d members, expected %d", k, len(members), r.opts.Required),
				apperrors.ErrGroupOverflow).
				WithContext("group", k.String())
		}
		if len(members) == r.opts.Required {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	var flushed []domain.FlushedGroup
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return flushed, err
		}

		group := r.buildLocked(k, groups[k])

		if r.opts.Writer != nil {
			if err := r.opts.Writer.WriteGroup(ctx, group); err != nil {
				return flushed, apperrors.NewStorageError(
					fmt.Sprintf("write group %s", k), err).
					WithContext("group", k.String())
			}
		}

		for _, m := range group.Members {
			delete(r.entries, m)
			r.released[m] = struct{}{}
		}
		r.complete[k] = struct{}{}
		flushed = append(flushed, group)

		r.logger.Info("Replicate group flushed",
			slog.String("run_id", k.RunID),
			slog.String("analyte", k.Analyte),
			slog.Any("replicates", group.Replicates()),
			slog.Int("values", len(group.Values)))
	}

	return flushed, nil
}

// FinalCheck reports groups that never completed. The buffer is left as is
// so the caller can still inspect the stuck entries.
func (r *Reservoir) FinalCheck() error {
	pending := r.Pending()
	if len(pending) == 0 {
		return nil
	}

	descriptions := make([]string, len(pending))
	for i, p := range pending {
		descriptions[i] = p.String()
	}

	if r.opts.Leftovers == LeftoverLog {
		for _, p := range pending {
			r.logger.Error("Incomplete replicate group left in buffer",
				slog.String("run_id", p.Key.RunID),
				slog.String("analyte", p.Key.Analyte),
				slog.Any("replicates", p.Replicates),
				slog.Int("required", p.Required))
		}
		return nil
	}

	return apperrors.NewIncompleteGroupError(
		fmt.Sprintf("%d incomplete replicate groups: %s", len(pending), strings.Join(descriptions, "; "))).
		WithContext("groups", len(pending))
}

// Len returns the number of buffered entries.
func (r *Reservoir) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Pending lists buffered groups in (run, analyte) order.
func (r *Reservoir) Pending() []GroupStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	groups := r.groupLocked()
	out := make([]GroupStatus, 0, len(groups))
	for k, members := range groups {
		reps := make([]int, len(members))
		for i, m := range members {
			reps[i] = m.Replicate
		}
		out = append(out, GroupStatus{Key: k, Replicates: reps, Required: r.opts.Required})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out
}

// groupLocked partitions buffered keys by group, each sorted by replicate.
func (r *Reservoir) groupLocked() map[domain.GroupKey][]domain.ReplicateKey {
	groups := make(map[domain.GroupKey][]domain.ReplicateKey)
	for k := range r.entries {
		g := k.Group()
		groups[g] = append(groups[g], k)
	}
	for _, members := range groups {
		sort.Slice(members, func(i, j int) bool { return members[i].Replicate < members[j].Replicate })
	}
	return groups
}

func (r *Reservoir) buildLocked(k domain.GroupKey, members []domain.ReplicateKey) domain.FlushedGroup {
	group := domain.FlushedGroup{
		Key:       k,
		Members:   append([]domain.ReplicateKey(nil), members...),
		FlushedAt: r.opts.Now(),
	}
	for _, m := range members {
		group.Values = append(group.Values, r.entries[m].Values()...)
	}
	if group.Values == nil {
		group.Values = []float64{}
	}
	return group
}
