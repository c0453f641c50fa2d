package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int { return &v }

func TestSideToMoveSign(t *testing.T) {
	assert.Equal(t, 1, sideToMoveSign("rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"))
	assert.Equal(t, -1, sideToMoveSign("rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1"))
	// malformed position defaults to white's view
	assert.Equal(t, 1, sideToMoveSign("garbage"))
}

func TestStoreNormalizesForBlack(t *testing.T) {
	r := &run{sign: -1, lines: make(map[int]AnalysisLine)}
	r.store(infoLine{rank: 1, cp: 120, pv: []string{"e7e5"}})
	require.Contains(t, r.lines, 1)
	assert.Equal(t, -120, r.lines[1].ScoreCP)

	r.store(infoLine{rank: 2, mate: 3, isMate: true, pv: []string{"d8h4"}})
	require.NotNil(t, r.lines[2].MateIn)
	assert.Equal(t, -3, *r.lines[2].MateIn)
	assert.Equal(t, -MateScoreCP, r.lines[2].ScoreCP)
}

func TestStoreOverwritesSameRank(t *testing.T) {
	r := &run{sign: 1, lines: make(map[int]AnalysisLine)}
	r.store(infoLine{rank: 1, cp: 10, pv: []string{"e2e4"}})
	r.store(infoLine{rank: 1, cp: 34, pv: []string{"d2d4", "d7d5"}})
	require.Len(t, r.lines, 1)
	assert.Equal(t, 34, r.lines[1].ScoreCP)
	assert.Equal(t, "d2d4", r.lines[1].Move)
}

func TestStoreMateSentinel(t *testing.T) {
	r := &run{sign: 1, lines: make(map[int]AnalysisLine)}
	r.store(infoLine{rank: 1, mate: 2, isMate: true, pv: []string{"f6f7"}})
	r.store(infoLine{rank: 2, mate: -4, isMate: true, pv: []string{"a2a3"}})
	assert.Equal(t, MateScoreCP, r.lines[1].ScoreCP)
	assert.Equal(t, -MateScoreCP, r.lines[2].ScoreCP)
}

func TestSortLines(t *testing.T) {
	lines := []AnalysisLine{
		{Rank: 1, Move: "a", MateIn: intp(2), ScoreCP: MateScoreCP},
		{Rank: 2, Move: "b", ScoreCP: 500},
		{Rank: 3, Move: "c", MateIn: intp(-4), ScoreCP: -MateScoreCP},
	}
	sortLines(lines)
	require.Len(t, lines, 3)
	assert.Equal(t, "a", lines[0].Move)
	assert.Equal(t, "b", lines[1].Move)
	assert.Equal(t, "c", lines[2].Move)
	// ranks renumbered to the sorted order
	assert.Equal(t, 1, lines[0].Rank)
	assert.Equal(t, 2, lines[1].Rank)
	assert.Equal(t, 3, lines[2].Rank)
}

func TestSortLinesFullOrdering(t *testing.T) {
	lines := []AnalysisLine{
		{Move: "loss-fast", MateIn: intp(-2), ScoreCP: -MateScoreCP},
		{Move: "cp-low", ScoreCP: -80},
		{Move: "mate-slow", MateIn: intp(5), ScoreCP: MateScoreCP},
		{Move: "cp-high", ScoreCP: 210},
		{Move: "mate-fast", MateIn: intp(1), ScoreCP: MateScoreCP},
		{Move: "loss-slow", MateIn: intp(-9), ScoreCP: -MateScoreCP},
	}
	sortLines(lines)
	order := make([]string, 0, len(lines))
	for _, l := range lines {
		order = append(order, l.Move)
	}
	// winning mates fastest first, then cp descending, then losses with the
	// slowest (least bad) first
	assert.Equal(t, []string{"mate-fast", "mate-slow", "cp-high", "cp-low", "loss-slow", "loss-fast"}, order)
}

func TestResultTopLine(t *testing.T) {
	r := &run{sign: 1, lines: make(map[int]AnalysisLine)}
	r.call.depth = 12
	r.store(infoLine{rank: 1, cp: 34, pv: []string{"e2e4", "e7e5"}})
	r.store(infoLine{rank: 2, cp: 80, pv: []string{"d2d4"}})
	res := r.result([]string{"bestmove", "e2e4"})
	// the sorted top line wins over the engine's bestmove token
	assert.Equal(t, "d2d4", res.BestMove)
	assert.Equal(t, 80, res.ScoreCP)
	assert.Nil(t, res.MateIn)
	assert.Equal(t, 12, res.Depth)
	require.Len(t, res.Lines, 2)
	assert.Equal(t, 1, res.Lines[0].Rank)
}

func TestResultNoLinesFallsBackToBestmove(t *testing.T) {
	r := &run{sign: 1, lines: make(map[int]AnalysisLine)}
	res := r.result([]string{"bestmove", "g1f3", "ponder", "g8f6"})
	assert.Equal(t, "g1f3", res.BestMove)
	assert.Empty(t, res.Lines)
	assert.Zero(t, res.ScoreCP)
}
