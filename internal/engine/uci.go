package engine

import (
	"sort"
	"strconv"
	"strings"
)

// UCI command and token vocabulary. See the protocol notes shipped with
// Stockfish; the subset here covers handshake, option setup, search and
// termination.
const (
	cmdUCI     = "uci"
	cmdIsReady = "isready"
	cmdNewGame = "ucinewgame"
	cmdStop    = "stop"
	cmdQuit    = "quit"

	tokenUCIOK    = "uciok"
	tokenReadyOK  = "readyok"
	tokenInfo     = "info"
	tokenBestmove = "bestmove"
)

func positionCmd(fen string) string {
	return "position fen " + fen
}

func goDepthCmd(depth int) string {
	return "go depth " + strconv.Itoa(depth)
}

func setOptionCmd(name, value string) string {
	return "setoption name " + name + " value " + value
}

// uciOption is one engine option applied during the handshake.
type uciOption struct {
	name  string
	value string
}

// setupOptions builds the option list sent between "uci" and "isready":
// MultiPV and Threads from the config, Ponder off so searches stay
// deterministic, then any extra configured options in name order.
func setupOptions(cfg Config) []uciOption {
	opts := []uciOption{
		{"MultiPV", strconv.Itoa(cfg.MultiPV)},
		{"Threads", strconv.Itoa(cfg.Threads)},
		{"Ponder", "false"},
	}
	extra := make([]string, 0, len(cfg.Options))
	for name := range cfg.Options {
		extra = append(extra, name)
	}
	sort.Strings(extra)
	for _, name := range extra {
		opts = append(opts, uciOption{name, cfg.Options[name]})
	}
	return opts
}

// infoLine is a parsed "info" progress line before perspective
// normalization: score and mate are relative to the side to move.
type infoLine struct {
	rank   int
	cp     int
	mate   int
	isMate bool
	pv     []string
}

// parseInfo extracts rank, score and principal variation from the fields of
// an "info" line (the leading "info" token already stripped). Lines without
// a score and a pv, such as "info string ..." or currmove progress, are not
// analysis lines and return ok=false. A missing multipv token means the
// engine runs single-PV; the rank defaults to 1.
func parseInfo(fields []string) (infoLine, bool) {
	il := infoLine{rank: 1}
	var hasScore bool
	for i := 0; i < len(fields); i++ {
		switch fields[i] {
		case "multipv":
			if i+1 < len(fields) {
				if n, err := strconv.Atoi(fields[i+1]); err == nil {
					il.rank = n
				}
				i++
			}
		case "score":
			if i+2 < len(fields) {
				v, err := strconv.Atoi(fields[i+2])
				if err != nil {
					return infoLine{}, false
				}
				switch fields[i+1] {
				case "cp":
					il.cp = v
					hasScore = true
				case "mate":
					il.mate = v
					il.isMate = true
					hasScore = true
				default:
					return infoLine{}, false
				}
				i += 2
			}
		case "pv":
			il.pv = fields[i+1:]
			i = len(fields)
		}
	}
	if !hasScore || len(il.pv) == 0 {
		return infoLine{}, false
	}
	return il, true
}

// parseBestmove returns the move from a "bestmove <move> [ponder <move>]"
// line, or "" when the engine reported no move (e.g. "bestmove (none)").
func parseBestmove(fields []string) string {
	if len(fields) < 2 {
		return ""
	}
	if fields[1] == "(none)" {
		return ""
	}
	return fields[1]
}

// firstField returns the leading whitespace-delimited token of line.
func firstField(line string) string {
	if i := strings.IndexByte(line, ' '); i >= 0 {
		return line[:i]
	}
	return line
}
