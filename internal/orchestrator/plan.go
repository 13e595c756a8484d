// Package orchestrator plans, submits and consolidates the workers of a run.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dyluth/protomodels/internal/hiscore"
	"github.com/dyluth/protomodels/pkg/protomodel"
)

// ErrSnapshot means a resume source could not be read. Plans fail with it
// before anything is submitted.
var ErrSnapshot = errors.New("unreadable resume snapshot")

// Job is the assignment of one worker: its id and, when resuming, the model
// to start from.
type Job struct {
	WorkerID    int
	ResumeFrom  string
	ResumeIndex int
}

// String renders the job as "3" or "3@path#index".
func (j Job) String() string {
	if j.ResumeFrom == "" {
		return strconv.Itoa(j.WorkerID)
	}
	return fmt.Sprintf("%d@%s#%d", j.WorkerID, j.ResumeFrom, j.ResumeIndex)
}

// ParseJob parses the form produced by String.
func ParseJob(s string) (Job, error) {
	s = strings.TrimSpace(s)
	idPart, resume, hasResume := strings.Cut(s, "@")
	id, err := strconv.Atoi(idPart)
	if err != nil || id < 0 {
		return Job{}, fmt.Errorf("invalid worker id in job '%s'", s)
	}
	job := Job{WorkerID: id}
	if !hasResume {
		return job, nil
	}

	i := strings.LastIndex(resume, "#")
	if i <= 0 {
		return Job{}, fmt.Errorf("invalid resume source in job '%s' (expected id@path#index)", s)
	}
	index, err := strconv.Atoi(resume[i+1:])
	if err != nil || index < 0 {
		return Job{}, fmt.Errorf("invalid resume index in job '%s'", s)
	}
	job.ResumeFrom = resume[:i]
	job.ResumeIndex = index
	return job, nil
}

// ParseJobs parses a list of job strings.
func ParseJobs(ss []string) ([]Job, error) {
	jobs := make([]Job, 0, len(ss))
	for _, s := range ss {
		j, err := ParseJob(s)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// Plan returns one job per worker id in [first, last]. When snapshots are
// given, every model of every snapshot is a resume source and sources are
// dealt to the workers round-robin. Any unreadable snapshot fails the plan.
func Plan(ctx context.Context, first, last int, snapshots []string) ([]Job, error) {
	if first < 0 || last < first {
		return nil, fmt.Errorf("invalid worker range %d..%d", first, last)
	}

	type source struct {
		path  string
		index int
	}
	var sources []source
	for _, path := range snapshots {
		models, err := LoadResumeModels(ctx, path)
		if err != nil {
			return nil, err
		}
		for i := range models {
			sources = append(sources, source{path: path, index: i})
		}
	}

	jobs := make([]Job, 0, last-first+1)
	for id := first; id <= last; id++ {
		job := Job{WorkerID: id}
		if len(sources) > 0 {
			src := sources[(id-first)%len(sources)]
			job.ResumeFrom = src.path
			job.ResumeIndex = src.index
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Split groups jobs into consecutive batches of at most size jobs. A size
// of zero or less yields a single batch.
func Split(jobs []Job, size int) [][]Job {
	if len(jobs) == 0 {
		return nil
	}
	if size <= 0 || size >= len(jobs) {
		return [][]Job{jobs}
	}
	var batches [][]Job
	for start := 0; start < len(jobs); start += size {
		end := start + size
		if end > len(jobs) {
			end = len(jobs)
		}
		batches = append(batches, jobs[start:end])
	}
	return batches
}

// LoadResumeModels reads the models of a resume source: either a worker
// snapshot or a hiscore file, whose raw list is used.
func LoadResumeModels(ctx context.Context, path string) ([]protomodel.State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshot, err)
	}

	var probe struct {
		Raw    json.RawMessage `json:"raw"`
		Models json.RawMessage `json:"models"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSnapshot, path, err)
	}

	var models []protomodel.State
	if probe.Raw != nil && probe.Models == nil {
		f, err := hiscore.NewStore(path, 0, 5*time.Second).Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSnapshot, err)
		}
		for _, e := range f.Raw {
			models = append(models, e.ToModel().State())
		}
	} else {
		snap, err := protomodel.ReadSnapshot(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSnapshot, err)
		}
		models = snap.Models
	}

	if len(models) == 0 {
		return nil, fmt.Errorf("%w: %s contains no models", ErrSnapshot, path)
	}
	for i, s := range models {
		if err := protomodel.FromState(s).Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s model %d: %v", ErrSnapshot, path, i, err)
		}
	}
	return models, nil
}

// MissingWorkers returns the worker ids in [first, last] that have no
// hiscore file in dir.
func MissingWorkers(dir string, first, last int) ([]int, error) {
	if first < 0 || last < first {
		return nil, fmt.Errorf("invalid worker range %d..%d", first, last)
	}
	var missing []int
	for id := first; id <= last; id++ {
		_, err := os.Stat(hiscore.WorkerPath(dir, id))
		if errors.Is(err, os.ErrNotExist) {
			missing = append(missing, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to check worker %d: %w", id, err)
		}
	}
	return missing, nil
}
