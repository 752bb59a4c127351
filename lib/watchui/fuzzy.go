// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package watchui

import (
	"sort"
	"unicode"

	"github.com/junegunn/fzf/src/algo"
	"github.com/junegunn/fzf/src/util"
)

// FuzzyResult carries the outcome of matching a pattern against one
// text: the match quality and the rune indices of matched characters.
// A zero Score means no match.
type FuzzyResult struct {
	Score     int
	Positions []int
}

// fuzzyMatch runs fzf's FuzzyMatchV2 algorithm against text. Matching
// is case-insensitive: the algorithm folds the text and the pattern is
// lowercased here, so callers pass it as typed. Positions are sorted
// ascending for the highlight renderer.
//
// The slab is fzf's scratch allocation arena. Passing nil is allowed
// (the algorithm allocates internally); callers matching many texts in
// a loop share one slab to avoid per-row allocations.
func fuzzyMatch(text string, pattern []rune, slab *util.Slab) FuzzyResult {
	if len(pattern) == 0 || text == "" {
		return FuzzyResult{}
	}

	folded := make([]rune, len(pattern))
	for i, r := range pattern {
		folded[i] = unicode.ToLower(r)
	}

	chars := util.ToChars([]byte(text))
	result, positions := algo.FuzzyMatchV2(false, true, true, &chars, folded, true, slab)
	if result.Score <= 0 {
		return FuzzyResult{}
	}

	match := FuzzyResult{Score: result.Score}
	if positions != nil && len(*positions) > 0 {
		match.Positions = append(match.Positions, *positions...)
		sort.Ints(match.Positions)
	}
	return match
}

// newFuzzySlab allocates a scratch arena sized for interactive list
// filtering. The dimensions follow fzf's own defaults.
func newFuzzySlab() *util.Slab {
	return util.MakeSlab(100*1024, 2048)
}
