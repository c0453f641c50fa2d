package engine

import (
	"sort"
	"strings"
)

// MateScoreCP is the centipawn sentinel assigned to forced-mate lines:
// +MateScoreCP for a winning mate, -MateScoreCP for a losing one.
const MateScoreCP = 10000

// AnalysisLine is one ranked line of engine analysis. Scores are normalized
// to white's perspective regardless of which side is to move.
type AnalysisLine struct {
	Rank    int      `json:"rank"`
	Move    string   `json:"move"`
	ScoreCP int      `json:"score_cp"`
	MateIn  *int     `json:"mate_in,omitempty"`
	PV      []string `json:"pv"`
}

// Result is a completed evaluation. Lines are sorted best-first; BestMove,
// ScoreCP and MateIn reflect the top line.
type Result struct {
	BestMove string         `json:"best_move"`
	ScoreCP  int            `json:"score_cp"`
	MateIn   *int           `json:"mate_in,omitempty"`
	Depth    int            `json:"depth"`
	Lines    []AnalysisLine `json:"lines"`
}

// sideToMoveSign returns +1 when white is to move in fen, -1 when black is.
// UCI engines report scores relative to the side to move; multiplying by
// this sign converts them to white's view.
func sideToMoveSign(fen string) int {
	fields := strings.Fields(fen)
	if len(fields) >= 2 && fields[1] == "b" {
		return -1
	}
	return 1
}

// lineLess orders analysis lines best-first: winning mates by ascending
// distance (fastest mate first), then centipawn lines by descending score,
// then losing mates by ascending signed distance (-9 before -2, the slowest
// loss being the least bad). A winning mate outranks any centipawn score and
// a losing mate ranks below any centipawn score.
func lineLess(a, b AnalysisLine) bool {
	switch {
	case a.MateIn != nil && b.MateIn != nil:
		am, bm := *a.MateIn, *b.MateIn
		if (am > 0) != (bm > 0) {
			return am > 0
		}
		return am < bm
	case a.MateIn != nil:
		return *a.MateIn > 0
	case b.MateIn != nil:
		return *b.MateIn < 0
	default:
		return a.ScoreCP > b.ScoreCP
	}
}

// sortLines sorts best-first and renumbers ranks to match the new order.
func sortLines(lines []AnalysisLine) {
	sort.SliceStable(lines, func(i, j int) bool { return lineLess(lines[i], lines[j]) })
	for i := range lines {
		lines[i].Rank = i + 1
	}
}
