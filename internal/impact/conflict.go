package impact

// opConflicts is the fixed conflict matrix: ops[a][b] reports whether two
// impacts with operations a and b on the SAME path may not run concurrently.
// Impacts on disjoint paths never conflict regardless of operation.
//
//	A \ B    CREATE  READ  UPDATE  DELETE
//	CREATE   yes     no    yes     yes
//	READ     no      no    no      yes
//	UPDATE   yes     no    yes     yes
//	DELETE   yes     yes   yes     yes
var opConflicts = [4][4]bool{
	OpCreate: {OpCreate: true, OpRead: false, OpUpdate: true, OpDelete: true},
	OpRead:   {OpCreate: false, OpRead: false, OpUpdate: false, OpDelete: true},
	OpUpdate: {OpCreate: true, OpRead: false, OpUpdate: true, OpDelete: true},
	OpDelete: {OpCreate: true, OpRead: true, OpUpdate: true, OpDelete: true},
}

// OpsConflict reports whether two operations on the same path conflict.
func OpsConflict(a, b Operation) bool {
	return opConflicts[a][b]
}

// Pair records one conflicting (path, opA, opB) triple between two impact
// sets, for diagnostics and events.
type Pair struct {
	Path string
	A    Operation
	B    Operation
}

// Conflicts reports whether two impact sets may not run concurrently.
// Two tasks conflict iff any pair of their impacts on the same path
// conflicts per the matrix. A task with no impacts (pure non-file work)
// never conflicts with anything.
func Conflicts(a, b []FileImpact) bool {
	return len(conflictPairs(a, b, true)) > 0
}

// ConflictPairs returns every conflicting (path, opA, opB) triple between
// two impact sets.
func ConflictPairs(a, b []FileImpact) []Pair {
	return conflictPairs(a, b, false)
}

func conflictPairs(a, b []FileImpact, first bool) []Pair {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}

	// Index b's operations by path so each a-impact is a map lookup.
	byPath := make(map[string][]Operation, len(b))
	for _, im := range b {
		byPath[im.Path] = append(byPath[im.Path], im.Operation)
	}

	var pairs []Pair
	for _, im := range a {
		for _, op := range byPath[im.Path] {
			if OpsConflict(im.Operation, op) {
				pairs = append(pairs, Pair{Path: im.Path, A: im.Operation, B: op})
				if first {
					return pairs
				}
			}
		}
	}
	return pairs
}
