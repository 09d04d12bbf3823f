package models

// Gradient is the presentation theme assigned to a chat at creation time.
// Assignment is deterministic over the chat name so recreating a chat with
// the same name yields the same theme; it carries no security meaning.
type Gradient struct {
	Colors    []string `json:"colors"`
	Direction string   `json:"direction"`
}

var gradients = []Gradient{
	{Colors: []string{"#FF7E5F", "#FEB47B"}, Direction: "to right"},
	{Colors: []string{"#FFDD00", "#FBB034"}, Direction: "to right"},
	{Colors: []string{"#00C6FB", "#005BEA"}, Direction: "to right"},
	{Colors: []string{"#D38312", "#A83279"}, Direction: "to right"},
}

// savedGradient is the fixed theme for per-user saved-message archives.
var savedGradient = Gradient{Colors: []string{"#BE10CE", "#F130FF"}, Direction: "to right"}

// GradientForName picks the palette entry for a chat name.
func GradientForName(name string) Gradient {
	return gradients[len(name)%len(gradients)]
}

// SavedGradient returns the theme used by saved-message chats.
func SavedGradient() Gradient { return savedGradient }
