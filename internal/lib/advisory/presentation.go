package advisory

import "fmt"

// Colour tokens understood by the map client's theme
const (
	ColorSuccess = "success"
	ColorWarning = "warning"
	ColorDanger  = "danger"
)

// Display is the label and colour token shown for a verdict
type Display struct {
	Label      string `json:"label"`
	ColorToken string `json:"color_token"`
}

var displays = map[Verdict]Display{
	SafeToTravel:       {Label: "Safe to Travel", ColorToken: ColorSuccess},
	ProceedWithCaution: {Label: "Proceed with Caution", ColorToken: ColorWarning},
	NotAdvisable:       {Label: "Not Advisable", ColorToken: ColorDanger},
}

// Present returns the display attributes for a verdict. Verdicts only come
// from Compute, so an unknown value is a programming error and panics.
func Present(v Verdict) Display {
	d, ok := displays[v]
	if !ok {
		panic(fmt.Sprintf("advisory: no display for %v", v))
	}
	return d
}
