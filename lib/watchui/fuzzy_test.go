// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package watchui

import "testing"

func TestFuzzyMatchEmptyInputs(t *testing.T) {
	t.Parallel()

	if got := fuzzyMatch("", []rune("abc"), nil); got.Score != 0 || got.Positions != nil {
		t.Errorf("fuzzyMatch(empty text) = %+v, want zero result", got)
	}
	if got := fuzzyMatch("abc", nil, nil); got.Score != 0 || got.Positions != nil {
		t.Errorf("fuzzyMatch(empty pattern) = %+v, want zero result", got)
	}
}

func TestFuzzyMatchSubstring(t *testing.T) {
	t.Parallel()

	text := "fix the flaky retry test"
	got := fuzzyMatch(text, []rune("flaky"), newFuzzySlab())
	if got.Score <= 0 {
		t.Fatalf("fuzzyMatch(%q, \"flaky\").Score = %d, want > 0", text, got.Score)
	}
	if len(got.Positions) != len("flaky") {
		t.Fatalf("Positions = %v, want one index per pattern rune", got.Positions)
	}

	runes := []rune(text)
	var matched []rune
	for index, position := range got.Positions {
		if position < 0 || position >= len(runes) {
			t.Fatalf("Positions[%d] = %d, out of range for %d runes", index, position, len(runes))
		}
		if index > 0 && got.Positions[index-1] >= position {
			t.Fatalf("Positions = %v, want strictly ascending", got.Positions)
		}
		matched = append(matched, runes[position])
	}
	if string(matched) != "flaky" {
		t.Errorf("matched runes = %q, want %q", string(matched), "flaky")
	}
}

func TestFuzzyMatchCaseInsensitive(t *testing.T) {
	t.Parallel()

	if got := fuzzyMatch("Fix The Flaky Test", []rune("FLAKY"), newFuzzySlab()); got.Score <= 0 {
		t.Errorf("uppercase pattern against mixed-case text: Score = %d, want > 0", got.Score)
	}
	if got := fuzzyMatch("BUILD PIPELINE", []rune("pipe"), newFuzzySlab()); got.Score <= 0 {
		t.Errorf("lowercase pattern against uppercase text: Score = %d, want > 0", got.Score)
	}
}

func TestFuzzyMatchPrefersContiguous(t *testing.T) {
	t.Parallel()

	slab := newFuzzySlab()
	contiguous := fuzzyMatch("stream supervisor", []rune("stream"), slab)
	scattered := fuzzyMatch("s_t_r_e_a_m", []rune("stream"), slab)
	if contiguous.Score <= 0 || scattered.Score <= 0 {
		t.Fatalf("both variants should match: contiguous=%d scattered=%d",
			contiguous.Score, scattered.Score)
	}
	if contiguous.Score <= scattered.Score {
		t.Errorf("contiguous score %d should beat scattered score %d",
			contiguous.Score, scattered.Score)
	}
}

func TestFuzzyMatchRejectsMissingRunes(t *testing.T) {
	t.Parallel()

	got := fuzzyMatch("discovery", []rune("xyz"), newFuzzySlab())
	if got.Score != 0 || got.Positions != nil {
		t.Errorf("fuzzyMatch with absent runes = %+v, want zero result", got)
	}
}

func TestFuzzyMatchNilSlab(t *testing.T) {
	t.Parallel()

	if got := fuzzyMatch("watch sessions", []rune("watch"), nil); got.Score <= 0 {
		t.Errorf("nil slab: Score = %d, want > 0", got.Score)
	}
}
