// Package retention prunes backup history under per-bucket time, count,
// and size policies. The three rules combine by union of deletions, but
// the keep-minimum floor is inviolable: no bucket ever drops below it.
package retention

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/untoldecay/checkpoint/internal/config"
)

// Policy is the pruning configuration for one bucket.
type Policy struct {
	// TimeBasedDays deletes artifacts older than this many days.
	// TimeRuleOn carries the on/off state so "older than 0 days"
	// (delete everything the floor allows) stays expressible:
	// TimeBasedDays=0 with TimeRuleOn=true.
	TimeBasedDays int
	TimeRuleOn    bool

	// CountBased keeps only the newest K artifacts. 0 = off.
	CountBased int

	// SizeBasedMB deletes oldest artifacts until the bucket total is
	// under this cap. 0 = off.
	SizeBasedMB int64

	// NeverDelete disables all pruning for the bucket.
	NeverDelete bool
}

// PolicyFor reads the configured policy for a bucket ("databases" or
// "files"). A negative time_based value switches the time rule off.
func PolicyFor(bucket string) Policy {
	prefix := "retention." + bucket + "."
	days := config.GetInt(prefix + "time_based")
	return Policy{
		TimeBasedDays: days,
		TimeRuleOn:    days >= 0,
		CountBased:    config.GetInt(prefix + "count_based"),
		SizeBasedMB:   int64(config.GetInt(prefix + "size_based_mb")),
		NeverDelete:   config.GetBool(prefix + "never_delete"),
	}
}

// Floor returns the configured keep-minimum.
func Floor() int { return config.GetInt("retention.keep_minimum") }

// Artifact is one prunable backup item: a file, or an archived snapshot
// directory treated as a unit.
type Artifact struct {
	Path    string
	ModTime time.Time
	Size    int64
}

// Plan is the outcome of evaluating a policy against a bucket.
type Plan struct {
	Bucket string
	Delete []Artifact
	Kept   int
}

// BytesFreed totals the size of everything the plan deletes.
func (p Plan) BytesFreed() int64 {
	var n int64
	for _, a := range p.Delete {
		n += a.Size
	}
	return n
}

// PlanBucket evaluates policy against the bucket's artifacts. floor is
// the minimum artifact count retention must leave behind (when the
// bucket holds at least that many).
func PlanBucket(bucket string, artifacts []Artifact, policy Policy, floor int, now time.Time) Plan {
	plan := Plan{Bucket: bucket, Kept: len(artifacts)}
	if policy.NeverDelete || len(artifacts) == 0 {
		return plan
	}

	// Newest first; deletions prefer the oldest.
	sorted := make([]Artifact, len(artifacts))
	copy(sorted, artifacts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ModTime.After(sorted[j].ModTime) })

	doomed := make(map[string]bool)

	if policy.TimeRuleOn {
		cutoff := now.AddDate(0, 0, -policy.TimeBasedDays)
		for _, a := range sorted {
			if a.ModTime.Before(cutoff) {
				doomed[a.Path] = true
			}
		}
	}

	if policy.CountBased > 0 {
		for _, a := range sorted[min(policy.CountBased, len(sorted)):] {
			doomed[a.Path] = true
		}
	}

	if policy.SizeBasedMB > 0 {
		capBytes := policy.SizeBasedMB * 1024 * 1024
		var total int64
		for _, a := range sorted {
			total += a.Size
		}
		// Walk oldest first until under the cap.
		for i := len(sorted) - 1; i >= 0 && total > capBytes; i-- {
			if !doomed[sorted[i].Path] {
				doomed[sorted[i].Path] = true
			}
			total -= sorted[i].Size
		}
	}

	// Clamp to the floor: rescue the newest doomed artifacts until the
	// bucket keeps at least floor.
	kept := len(sorted) - len(doomed)
	if floor > 0 && kept < floor {
		for _, a := range sorted {
			if kept >= floor {
				break
			}
			if doomed[a.Path] {
				delete(doomed, a.Path)
				kept++
			}
		}
	}

	// Oldest deleted first, for log readability.
	for i := len(sorted) - 1; i >= 0; i-- {
		if doomed[sorted[i].Path] {
			plan.Delete = append(plan.Delete, sorted[i])
		}
	}
	plan.Kept = len(sorted) - len(plan.Delete)
	return plan
}

// Apply deletes everything the plan names. Directories are removed
// recursively. Individual failures are collected, not fatal.
func Apply(plan Plan) []error {
	var errs []error
	for _, a := range plan.Delete {
		if err := os.RemoveAll(a.Path); err != nil {
			errs = append(errs, fmt.Errorf("deleting %s: %w", a.Path, err))
		}
	}
	return errs
}

// ScanFiles lists the artifacts in a flat bucket directory (databases).
// Each regular file is one artifact. A missing directory is an empty
// bucket.
func ScanFiles(dir string) ([]Artifact, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Artifact
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Artifact{
			Path:    filepath.Join(dir, e.Name()),
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	}
	return out, nil
}

// ScanSnapshots lists the artifacts in an archived-snapshots directory
// (files bucket). Each timestamped subdirectory is one artifact whose
// size is its recursive total.
func ScanSnapshots(dir string) ([]Artifact, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Artifact
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Artifact{
			Path:    path,
			ModTime: info.ModTime(),
			Size:    dirSize(path),
		})
	}
	return out, nil
}

func dirSize(root string) int64 {
	var total int64
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
