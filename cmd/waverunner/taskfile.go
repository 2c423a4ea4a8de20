package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/quayside/waverunner/internal/impact"
	"github.com/quayside/waverunner/internal/scheduler"
)

// taskFile is the on-disk task set format.
type taskFile struct {
	Tasks []taskSpec `json:"tasks"`
}

type taskSpec struct {
	ID        string              `json:"id"`
	DisplayID string              `json:"display_id,omitempty"`
	DependsOn []string            `json:"depends_on,omitempty"`
	Priority  int                 `json:"priority,omitempty"`
	Critical  bool                `json:"critical,omitempty"`
	Impacts   []impact.FileImpact `json:"impacts"`
}

// loadTaskSet reads a task file and builds the validated DAG.
func loadTaskSet(path string) (*scheduler.DAG, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading task file: %w", err)
	}

	var tf taskFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(tf.Tasks) == 0 {
		return nil, fmt.Errorf("%s contains no tasks", path)
	}

	dag := scheduler.NewDAG()
	for _, spec := range tf.Tasks {
		displayID := spec.DisplayID
		if displayID == "" {
			displayID = spec.ID
		}
		task := &scheduler.Task{
			ID:        spec.ID,
			DisplayID: displayID,
			DependsOn: spec.DependsOn,
			Priority:  spec.Priority,
			Critical:  spec.Critical,
			Impacts:   spec.Impacts,
		}
		if err := dag.AddTask(task); err != nil {
			return nil, fmt.Errorf("adding task %s: %w", spec.ID, err)
		}
	}

	if _, err := dag.Validate(); err != nil {
		return nil, err
	}
	return dag, nil
}
