package client

// EvaluateRequest asks the service to analyse one position.
type EvaluateRequest struct {
	FEN   string `json:"fen"`
	Depth int    `json:"depth"`
}

// AnalysisLine is one ranked line of analysis, scores from white's view.
type AnalysisLine struct {
	Rank    int      `json:"rank"`
	Move    string   `json:"move"`
	ScoreCP int      `json:"score_cp"`
	MateIn  *int     `json:"mate_in,omitempty"`
	PV      []string `json:"pv"`
}

// EvaluateResponse is the server's answer to an evaluate request.
type EvaluateResponse struct {
	ID         string         `json:"id"`
	FEN        string         `json:"fen"`
	Depth      int            `json:"depth"`
	BestMove   string         `json:"best_move"`
	Evaluation int            `json:"evaluation"`
	MateIn     *int           `json:"mate_in,omitempty"`
	Lines      []AnalysisLine `json:"lines"`
	DurationMS int64          `json:"duration_ms"`
}

// DriverStatus describes one engine driver inside the pool.
type DriverStatus struct {
	Name   string `json:"name"`
	State  string `json:"state"`
	PID    int    `json:"pid,omitempty"`
	Ready  bool   `json:"ready"`
	Busy   bool   `json:"busy"`
	Queued bool   `json:"queued"`
}

// PoolStatus mirrors the service's status endpoint.
type PoolStatus struct {
	Engines int            `json:"engines"`
	Busy    int            `json:"busy"`
	Queued  int            `json:"queued"`
	Drivers []DriverStatus `json:"drivers"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
