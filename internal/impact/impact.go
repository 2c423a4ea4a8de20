package impact

import (
	"encoding/json"
	"fmt"
)

// Operation is the kind of file access a task declares for a path.
type Operation int

const (
	OpCreate Operation = iota
	OpRead
	OpUpdate
	OpDelete
)

var opNames = map[Operation]string{
	OpCreate: "CREATE",
	OpRead:   "READ",
	OpUpdate: "UPDATE",
	OpDelete: "DELETE",
}

var opValues = map[string]Operation{
	"CREATE": OpCreate,
	"READ":   OpRead,
	"UPDATE": OpUpdate,
	"DELETE": OpDelete,
}

func (o Operation) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Operation(%d)", int(o))
}

// MarshalJSON encodes the operation as its canonical upper-case name.
func (o Operation) MarshalJSON() ([]byte, error) {
	name, ok := opNames[o]
	if !ok {
		return nil, fmt.Errorf("unknown operation %d", int(o))
	}
	return json.Marshal(name)
}

// UnmarshalJSON decodes an operation from its canonical name.
func (o *Operation) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	op, ok := opValues[name]
	if !ok {
		return fmt.Errorf("unknown operation %q", name)
	}
	*o = op
	return nil
}

// ParseOperation converts a canonical name to an Operation.
func ParseOperation(name string) (Operation, error) {
	op, ok := opValues[name]
	if !ok {
		return 0, fmt.Errorf("unknown operation %q", name)
	}
	return op, nil
}

// FileImpact declares one (path, operation) pair a task will touch,
// with a confidence value in [0,1]. Immutable once computed for a task.
type FileImpact struct {
	Path       string    `json:"path"`
	Operation  Operation `json:"operation"`
	Confidence float64   `json:"confidence"`
}

// MutatingPaths returns the deduplicated paths the impact set writes to
// (everything except pure reads). These are the paths that need locks
// and checkpoints.
func MutatingPaths(impacts []FileImpact) []string {
	seen := make(map[string]bool)
	var paths []string
	for _, im := range impacts {
		if im.Operation == OpRead {
			continue
		}
		if !seen[im.Path] {
			seen[im.Path] = true
			paths = append(paths, im.Path)
		}
	}
	return paths
}
