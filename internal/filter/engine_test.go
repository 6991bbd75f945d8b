package filter

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"tgtg_watcher/internal/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		current  int
		previous int
		want     Transition
	}{
		{name: "same quantity", current: 4, previous: 4, want: Unchanged},
		{name: "both zero", current: 0, previous: 0, want: Unchanged},
		{name: "drop to zero", current: 0, previous: 5, want: DecreaseToZero},
		{name: "drop by one to zero", current: 0, previous: 1, want: DecreaseToZero},
		{name: "partial drop", current: 2, previous: 5, want: Decrease},
		{name: "restock from zero", current: 3, previous: 0, want: IncreaseFromZero},
		{name: "restock", current: 7, previous: 3, want: Increase},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.current, tt.previous)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Classify(%d, %d) mismatch (-want +got):\n%s", tt.current, tt.previous, diff)
			}
		})
	}
}

func TestMatch(t *testing.T) {
	all := model.MessageFilter{
		ShowUnchanged: true, ShowDecrease: true, ShowDecreaseToZero: true,
		ShowIncrease: true, ShowIncreaseFromZero: true,
	}

	tests := []struct {
		name     string
		policy   model.MessageFilter
		current  int
		previous int
		want     bool
	}{
		{
			name:    "drop to zero uses its own flag",
			policy:  model.MessageFilter{ShowDecreaseToZero: true},
			current: 0, previous: 5,
			want: true,
		},
		{
			name:    "drop to zero ignores decrease flag",
			policy:  model.MessageFilter{ShowDecrease: true},
			current: 0, previous: 5,
			want: false,
		},
		{
			name:    "restock from zero uses its own flag",
			policy:  model.MessageFilter{ShowIncreaseFromZero: true},
			current: 3, previous: 0,
			want: true,
		},
		{
			name:    "restock from zero ignores increase flag",
			policy:  model.MessageFilter{ShowIncrease: true},
			current: 3, previous: 0,
			want: false,
		},
		{
			name:    "unchanged with every other flag set",
			policy:  model.MessageFilter{ShowDecrease: true, ShowDecreaseToZero: true, ShowIncrease: true, ShowIncreaseFromZero: true},
			current: 4, previous: 4,
			want: false,
		},
		{
			name:    "unchanged with show unchanged",
			policy:  model.MessageFilter{ShowUnchanged: true},
			current: 4, previous: 4,
			want: true,
		},
		{
			name:    "partial drop",
			policy:  model.MessageFilter{ShowDecrease: true},
			current: 2, previous: 5,
			want: true,
		},
		{
			name:    "increase",
			policy:  model.MessageFilter{ShowIncrease: true},
			current: 6, previous: 2,
			want: true,
		},
		{
			name:    "empty policy",
			policy:  model.MessageFilter{},
			current: 6, previous: 0,
			want: false,
		},
		{
			name:    "full policy",
			policy:  all,
			current: 1, previous: 9,
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Match(tt.policy, tt.current, tt.previous)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Match mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestToggle(t *testing.T) {
	var p model.MessageFilter

	got, ok := Toggle(&p, FieldShowDecrease)
	if !ok || !got {
		t.Fatalf("Toggle = (%v, %v), want (true, true)", got, ok)
	}
	if diff := cmp.Diff(model.MessageFilter{ShowDecrease: true}, p); diff != "" {
		t.Errorf("policy mismatch (-want +got):\n%s", diff)
	}

	got, _ = Toggle(&p, FieldShowDecrease)
	if got {
		t.Error("second toggle should clear the flag")
	}

	if _, ok := Toggle(&p, Field("showEverything")); ok {
		t.Error("unknown field should not be accepted")
	}
	if diff := cmp.Diff(model.MessageFilter{}, p); diff != "" {
		t.Errorf("policy mismatch (-want +got):\n%s", diff)
	}
}

func TestGet(t *testing.T) {
	p := model.MessageFilter{ShowIncreaseFromZero: true}
	got := make(map[Field]bool)
	for _, f := range Fields {
		got[f] = Get(p, f)
	}
	want := map[Field]bool{
		FieldShowUnchanged:        false,
		FieldShowDecrease:         false,
		FieldShowDecreaseToZero:   false,
		FieldShowIncrease:         false,
		FieldShowIncreaseFromZero: true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Get mismatch (-want +got):\n%s", diff)
	}
}
