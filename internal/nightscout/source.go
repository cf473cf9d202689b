package nightscout

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mrcode/loopsim/internal/loop"
	"github.com/mrcode/loopsim/internal/models"
)

// Snapshot is the raw data fetched from Nightscout for one run
type Snapshot struct {
	Entries    []models.GlucoseEntry
	Treatments []models.Treatment
	Profile    *ProfileSet
	FetchedAt  time.Time
}

// Source fetches snapshots and caches them for a short time
type Source struct {
	client *Client
	hours  int

	mu            sync.Mutex
	cached        *Snapshot
	cacheDuration time.Duration
}

// NewSource creates a source reading the last hours of history
func NewSource(client *Client, hours int) *Source {
	return &Source{
		client:        client,
		hours:         hours,
		cacheDuration: 5 * time.Minute,
	}
}

// Snapshot returns the cached snapshot if still fresh, otherwise fetches
// entries, treatments and the profile concurrently.
func (s *Source) Snapshot(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && time.Since(s.cached.FetchedAt) < s.cacheDuration {
		return s.cached, nil
	}

	snap := &Snapshot{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		entries, err := s.client.GetEntriesHours(gctx, s.hours)
		if err != nil {
			return fmt.Errorf("fetching entries: %w", err)
		}
		snap.Entries = entries
		return nil
	})
	g.Go(func() error {
		treatments, err := s.client.GetTreatmentsHours(gctx, s.hours)
		if err != nil {
			return fmt.Errorf("fetching treatments: %w", err)
		}
		snap.Treatments = treatments
		return nil
	})
	g.Go(func() error {
		profile, err := s.client.GetProfile(gctx)
		if err != nil {
			return fmt.Errorf("fetching profile: %w", err)
		}
		snap.Profile = profile
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap.FetchedAt = time.Now()
	s.cached = snap
	return snap, nil
}

// Invalidate forces the next Snapshot to refetch
func (s *Source) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// BuildInput converts a snapshot into engine input evaluated at now.
// Entries and treatments are sorted, basal-like doses are truncated where
// the next one starts, and a temp basal still running is trimmed to now
// and reported as the pump's current temp.
func BuildInput(snap *Snapshot, now time.Time) (loop.Input, error) {
	if snap.Profile == nil {
		return loop.Input{}, fmt.Errorf("profile: %w", models.ErrMissingSchedule)
	}
	profile, err := snap.Profile.Active()
	if err != nil {
		return loop.Input{}, err
	}
	sched, err := profile.Schedules()
	if err != nil {
		return loop.Input{}, err
	}
	now = now.In(sched.Location)

	in := loop.Input{
		Now:         now,
		Basal:       sched.Basal,
		CarbRatios:  sched.CarbRatios,
		Sensitivity: sched.Sensitivity,
		Targets:     sched.Targets,
	}

	in.Glucose = glucoseSamples(snap.Entries, now, sched.Location)

	treatments := slices.Clone(snap.Treatments)
	slices.SortStableFunc(treatments, func(a, b models.Treatment) int { return a.Time().Compare(b.Time()) })

	for _, t := range treatments {
		at := t.Time().In(sched.Location)
		if at.IsZero() || at.After(now) {
			continue
		}
		if entry, ok := t.ToCarb(); ok {
			entry.Start = at
			in.Carbs = append(in.Carbs, entry)
		}
		scheduled, err := sched.Basal.ValueAt(at)
		if err != nil {
			return loop.Input{}, fmt.Errorf("scheduled basal at %s: %w", at.Format(time.RFC3339), err)
		}
		if dose, ok := t.ToDose(scheduled); ok {
			dose.Start = at
			dose.End = dose.End.In(sched.Location)
			in.Doses = append(in.Doses, dose)
		}
	}

	in.Doses, in.LastTempBasal = reconcileDoses(in.Doses, now)
	return in, nil
}

func glucoseSamples(entries []models.GlucoseEntry, now time.Time, loc *time.Location) []models.GlucoseSample {
	samples := make([]models.GlucoseSample, 0, len(entries))
	for _, e := range entries {
		if e.SGV <= 0 {
			continue
		}
		sample := e.ToSample()
		sample.Date = sample.Date.In(loc)
		if sample.Date.After(now) {
			continue
		}
		samples = append(samples, sample)
	}
	slices.SortStableFunc(samples, func(a, b models.GlucoseSample) int { return a.Date.Compare(b.Date) })

	// uploaders occasionally post the same reading twice
	return slices.CompactFunc(samples, func(a, b models.GlucoseSample) bool {
		return a.Date.Equal(b.Date) && a.IsCalibration == b.IsCalibration
	})
}

// reconcileDoses ends each basal-like dose where the next one (or a
// resume) starts and trims delivery still running to now. Open-ended
// suspends run until that point, or until now while still in effect.
func reconcileDoses(doses []models.DoseEntry, now time.Time) ([]models.DoseEntry, *models.TempBasal) {
	var running *models.TempBasal

	for i := range doses {
		d := &doses[i]
		if !d.Kind.IsBasalLike() {
			continue
		}
		// a suspend uploaded without a duration lasts until the pump resumes
		if d.Kind == models.DoseSuspend && !d.End.After(d.Start) {
			d.End = now
		}
		for _, next := range doses[i+1:] {
			if next.Kind.IsBasalLike() || next.Kind == models.DoseResume {
				if next.Start.Before(d.End) {
					d.End = next.Start
				}
				break
			}
		}
		if d.End.After(now) {
			if d.Kind == models.DoseTempBasal {
				running = &models.TempBasal{Start: d.Start, Rate: d.Value, Duration: d.End.Sub(d.Start)}
			}
			d.End = now
		}
	}

	out := doses[:0]
	for _, d := range doses {
		if d.Kind == models.DoseResume {
			continue
		}
		if d.Kind.IsBasalLike() && !d.End.After(d.Start) {
			continue
		}
		out = append(out, d)
	}
	return out, running
}
