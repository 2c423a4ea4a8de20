package impact

import (
	"encoding/json"
	"testing"
)

// TestOpsConflict checks every operation pair against the conflict matrix.
func TestOpsConflict(t *testing.T) {
	tests := []struct {
		a, b Operation
		want bool
	}{
		{OpCreate, OpCreate, true},
		{OpCreate, OpRead, false},
		{OpCreate, OpUpdate, true},
		{OpCreate, OpDelete, true},
		{OpRead, OpCreate, false},
		{OpRead, OpRead, false},
		{OpRead, OpUpdate, false},
		{OpRead, OpDelete, true},
		{OpUpdate, OpCreate, true},
		{OpUpdate, OpRead, false},
		{OpUpdate, OpUpdate, true},
		{OpUpdate, OpDelete, true},
		{OpDelete, OpCreate, true},
		{OpDelete, OpRead, true},
		{OpDelete, OpUpdate, true},
		{OpDelete, OpDelete, true},
	}

	for _, tt := range tests {
		if got := OpsConflict(tt.a, tt.b); got != tt.want {
			t.Errorf("OpsConflict(%s, %s) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestConflicts(t *testing.T) {
	tests := []struct {
		name string
		a, b []FileImpact
		want bool
	}{
		{
			name: "empty sets never conflict",
			a:    nil,
			b:    nil,
			want: false,
		},
		{
			name: "empty against non-empty",
			a:    nil,
			b:    []FileImpact{{Path: "a.go", Operation: OpUpdate}},
			want: false,
		},
		{
			name: "different paths",
			a:    []FileImpact{{Path: "a.go", Operation: OpUpdate}},
			b:    []FileImpact{{Path: "b.go", Operation: OpUpdate}},
			want: false,
		},
		{
			name: "concurrent reads of same path",
			a:    []FileImpact{{Path: "a.go", Operation: OpRead}},
			b:    []FileImpact{{Path: "a.go", Operation: OpRead}},
			want: false,
		},
		{
			name: "read against update of same path",
			a:    []FileImpact{{Path: "a.go", Operation: OpRead}},
			b:    []FileImpact{{Path: "a.go", Operation: OpUpdate}},
			want: false,
		},
		{
			name: "update against update of same path",
			a:    []FileImpact{{Path: "a.go", Operation: OpUpdate}},
			b:    []FileImpact{{Path: "a.go", Operation: OpUpdate}},
			want: true,
		},
		{
			name: "delete against read",
			a:    []FileImpact{{Path: "a.go", Operation: OpDelete}},
			b:    []FileImpact{{Path: "a.go", Operation: OpRead}},
			want: true,
		},
		{
			name: "conflict buried among non-conflicting paths",
			a: []FileImpact{
				{Path: "x.go", Operation: OpRead},
				{Path: "shared.go", Operation: OpUpdate},
			},
			b: []FileImpact{
				{Path: "y.go", Operation: OpCreate},
				{Path: "shared.go", Operation: OpDelete},
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Conflicts(tt.a, tt.b); got != tt.want {
				t.Errorf("Conflicts() = %v, want %v", got, tt.want)
			}
			// The relation is symmetric.
			if got := Conflicts(tt.b, tt.a); got != tt.want {
				t.Errorf("Conflicts() reversed = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConflictPairs(t *testing.T) {
	a := []FileImpact{
		{Path: "a.go", Operation: OpUpdate},
		{Path: "b.go", Operation: OpRead},
		{Path: "c.go", Operation: OpDelete},
	}
	b := []FileImpact{
		{Path: "a.go", Operation: OpUpdate},
		{Path: "b.go", Operation: OpRead},
		{Path: "c.go", Operation: OpCreate},
	}

	pairs := ConflictPairs(a, b)
	if len(pairs) != 2 {
		t.Fatalf("got %d pairs, want 2: %+v", len(pairs), pairs)
	}
	seen := make(map[string]bool)
	for _, p := range pairs {
		seen[p.Path] = true
	}
	if !seen["a.go"] || !seen["c.go"] {
		t.Errorf("expected conflicts on a.go and c.go, got %+v", pairs)
	}
}

func TestMutatingPaths(t *testing.T) {
	impacts := []FileImpact{
		{Path: "read-only.go", Operation: OpRead},
		{Path: "new.go", Operation: OpCreate},
		{Path: "changed.go", Operation: OpUpdate},
		{Path: "changed.go", Operation: OpDelete}, // Duplicate path
	}

	paths := MutatingPaths(impacts)
	if len(paths) != 2 {
		t.Fatalf("got %d paths, want 2: %v", len(paths), paths)
	}
	for _, p := range paths {
		if p == "read-only.go" {
			t.Error("pure read should not appear in mutating paths")
		}
	}
}

func TestOperationJSON(t *testing.T) {
	data, err := json.Marshal(FileImpact{Path: "a.go", Operation: OpDelete, Confidence: 0.8})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got FileImpact
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Operation != OpDelete {
		t.Errorf("operation round-trip = %s, want %s", got.Operation, OpDelete)
	}

	if err := json.Unmarshal([]byte(`{"path":"a.go","operation":"RENAME"}`), &got); err == nil {
		t.Error("expected error for unknown operation")
	}
}
