package domain

// DrawSegment is one line stroke in unit-square coordinates (0..1),
// resolution-independent. Append-only, never mutated after creation.
type DrawSegment struct {
	FromX    float64 `json:"from_x"`
	FromY    float64 `json:"from_y"`
	ToX      float64 `json:"to_x"`
	ToY      float64 `json:"to_y"`
	Color    string  `json:"color"`
	Width    float64 `json:"width"`
	IsEraser bool    `json:"is_eraser,omitempty"`
}
