package core

// Color is a tag from the fixed marker palette.
type Color string

const (
	ColorBlack  Color = "black"
	ColorPink   Color = "pink"
	ColorYellow Color = "yellow"
	ColorBlue   Color = "blue"
	ColorGreen  Color = "green"
	ColorPurple Color = "purple"
	ColorOrange Color = "orange"
)

var palette = map[Color]string{
	ColorPink:   "#ff9a9e",
	ColorYellow: "#f6e58d",
	ColorBlue:   "#74b9ff",
	ColorGreen:  "#55efc4",
	ColorPurple: "#a29bfe",
	ColorOrange: "#fab1a0",
	ColorBlack:  "#1a1a1a",
}

// Colors lists the palette in display order.
func Colors() []Color {
	return []Color{ColorBlack, ColorPink, ColorYellow, ColorBlue, ColorGreen, ColorPurple, ColorOrange}
}

// ParseColor maps a stored tag to a palette color, defaulting to black.
func ParseColor(s string) Color {
	c := Color(s)
	if _, ok := palette[c]; ok {
		return c
	}
	return ColorBlack
}

// Hex returns the bubble background for the color.
func (c Color) Hex() string {
	if hex, ok := palette[c]; ok {
		return hex
	}
	return palette[ColorBlack]
}

// TextHex returns the foreground that stays readable on Hex.
func (c Color) TextHex() string {
	if ParseColor(string(c)) == ColorBlack {
		return "#fff"
	}
	return "#1a1a1a"
}
