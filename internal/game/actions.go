package game

// ActionPayload carries the fields of one client action. Which fields are
// required depends on the ActionType; handlers validate per phase.
type ActionPayload struct {
	X       float64  `json:"x,omitempty"`
	Y       float64  `json:"y,omitempty"`
	VX      float64  `json:"vx,omitempty"`
	VY      float64  `json:"vy,omitempty"`
	StoneID int      `json:"stone_id,omitempty"`
	Pick    string   `json:"pick,omitempty"`
	Item    ItemType `json:"item,omitempty"`
}
