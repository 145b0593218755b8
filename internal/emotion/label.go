package emotion

import "fmt"

// Label is one of the seven emotion classes. The numeric value is the index
// of the class in the classifier's output vector.
type Label int

const (
	Angry Label = iota
	Disgust
	Fear
	Happy
	Neutral
	Sad
	Surprised
)

// NumLabels is the length of a well-formed classifier output vector
const NumLabels = 7

var labelNames = [NumLabels]string{
	"Angry", "Disgust", "Fear", "Happy", "Neutral", "Sad", "Surprised",
}

var labelGlyphs = [NumLabels]string{
	"😠", "🤢", "😨", "😄", "😐", "😢", "😲",
}

// Labels returns all labels in classifier index order
func Labels() []Label {
	out := make([]Label, NumLabels)
	for i := range out {
		out[i] = Label(i)
	}
	return out
}

// Valid reports whether l is one of the seven known labels
func (l Label) Valid() bool {
	return l >= 0 && l < NumLabels
}

func (l Label) String() string {
	if !l.Valid() {
		return fmt.Sprintf("Label(%d)", int(l))
	}
	return labelNames[l]
}

// Glyph returns the display emoji for the label
func (l Label) Glyph() string {
	if !l.Valid() {
		return "?"
	}
	return labelGlyphs[l]
}

// MarshalText encodes the label by name
func (l Label) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid emotion label %d", int(l))
	}
	return []byte(labelNames[l]), nil
}

// UnmarshalText decodes a label name
func (l *Label) UnmarshalText(text []byte) error {
	parsed, err := ParseLabel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLabel looks up a label by its name
func ParseLabel(name string) (Label, error) {
	for i, n := range labelNames {
		if n == name {
			return Label(i), nil
		}
	}
	return 0, fmt.Errorf("unknown emotion label %q", name)
}
