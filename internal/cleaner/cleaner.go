// Package cleaner implements the JobCleaner component: reclaims workspace
// directories per the retention policy in SPEC_FULL.md §4.6.
package cleaner

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-logr/logr"

	"github.com/airbyte-oss/scheduler-core/internal/metrics"
)

// RetentionPolicy bounds how long and how much workspace disk to keep.
type RetentionPolicy struct {
	MinAge       time.Duration
	MaxAge       time.Duration
	MaxSizeBytes int64
}

// Cleaner reclaims attempt workspace directories.
type Cleaner struct {
	root    string
	policy  RetentionPolicy
	log     logr.Logger
	now     func() time.Time
	metrics *metrics.Metrics
}

// New constructs a Cleaner rooted at workspaceRoot. m may be nil, in which
// case bytes-freed is not recorded.
func New(workspaceRoot string, policy RetentionPolicy, log logr.Logger, m *metrics.Metrics) *Cleaner {
	return &Cleaner{root: workspaceRoot, policy: policy, log: log, now: time.Now, metrics: m}
}

type entry struct {
	path    string
	modTime time.Time
	size    int64
}

// Run walks <workspaceRoot>/<jobId>/<attemptNumber> directories, deleting
// those older than MaxAge outright, and, among the rest, the oldest ones
// once cumulative size (counted newest-first) exceeds MaxSizeBytes -- but
// never a directory younger than MinAge. Per-directory failures are logged
// and do not abort the pass.
func (c *Cleaner) Run() error {
	entries, err := c.scan()
	if err != nil {
		return err
	}

	now := c.now()
	var kept []entry
	for _, e := range entries {
		if now.Sub(e.modTime) >= c.policy.MaxAge {
			c.remove(e)
			continue
		}
		kept = append(kept, e)
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].modTime.After(kept[j].modTime) })

	var cumulative int64
	for _, e := range kept {
		cumulative += e.size
		if cumulative <= c.policy.MaxSizeBytes {
			continue
		}
		if now.Sub(e.modTime) < c.policy.MinAge {
			continue
		}
		c.remove(e)
	}
	return nil
}

func (c *Cleaner) scan() ([]entry, error) {
	jobDirs, err := os.ReadDir(c.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []entry
	for _, jobDir := range jobDirs {
		if !jobDir.IsDir() {
			continue
		}
		jobPath := filepath.Join(c.root, jobDir.Name())
		attemptDirs, err := os.ReadDir(jobPath)
		if err != nil {
			c.log.Error(err, "cleaner: failed reading job directory", "path", jobPath)
			continue
		}
		for _, attemptDir := range attemptDirs {
			if !attemptDir.IsDir() {
				continue
			}
			path := filepath.Join(jobPath, attemptDir.Name())
			size, modTime, err := dirStat(path)
			if err != nil {
				c.log.Error(err, "cleaner: failed statting attempt directory", "path", path)
				continue
			}
			entries = append(entries, entry{path: path, modTime: modTime, size: size})
		}
	}
	return entries, nil
}

func dirStat(path string) (int64, time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, time.Time{}, err
	}
	var size int64
	err = filepath.Walk(path, func(_ string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			size += fi.Size()
		}
		return nil
	})
	return size, info.ModTime(), err
}

func (c *Cleaner) remove(e entry) {
	if err := os.RemoveAll(e.path); err != nil {
		c.log.Error(err, "cleaner: failed removing workspace directory", "path", e.path)
		return
	}
	c.log.V(1).Info("cleaner: removed workspace directory", "path", e.path, "bytes", e.size)
	if c.metrics != nil {
		c.metrics.CleanerBytesFreed.Add(float64(e.size))
	}
}
