package scheduler

import (
	"fmt"

	"github.com/google/uuid"
)

// Label keys used for pmodel containers
const (
	LabelProject   = "pmodel.project"
	LabelRunName   = "pmodel.run.name"
	LabelRunID     = "pmodel.run.id"
	LabelJobName   = "pmodel.job.name"
	LabelWorkers   = "pmodel.job.workers"
	LabelComponent = "pmodel.component"
)

// BuildLabels creates the standard label set for pmodel containers.
// All parameters are required except component.
func BuildLabels(runName, runID, jobName, component string) map[string]string {
	labels := map[string]string{
		LabelProject: "true",
		LabelRunName: runName,
		LabelRunID:   runID,
		LabelJobName: jobName,
	}

	if component != "" {
		labels[LabelComponent] = component
	}

	return labels
}

// GenerateRunID creates a new UUID for a submission.
// Each invocation of `pmodel submit` gets a unique run ID.
func GenerateRunID() string {
	return uuid.New().String()
}

// ContainerName returns the container name of a job.
func ContainerName(runName, runID, jobName string) string {
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("pmodel-%s-%s-%s", runName, short, jobName)
}

// JobName returns the name of the job running workers first..last.
func JobName(first, last int) string {
	if first == last {
		return fmt.Sprintf("w%d", first)
	}
	return fmt.Sprintf("w%d-%d", first, last)
}
