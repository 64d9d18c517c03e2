package heatmap

import (
	"fmt"
	"strings"

	"github.com/heatmap-tiles/server/pkg/colormap"
)

// State returns the persisted view state: the serialized color scheme and
// the dendrogram flag, joined by "|".
func (d *Dataset) State() string {
	flag := "0"
	if d.dendrogram {
		flag = "1"
	}
	return d.scheme.Serialize() + "|" + flag
}

// ApplyState restores a string produced by State. A malformed scheme leaves
// the dataset unchanged. done follows SetDendrogramEnabled.
func (d *Dataset) ApplyState(state string, done func(completed bool)) error {
	i := strings.LastIndex(state, "|")
	if i < 0 {
		return fmt.Errorf("%w: missing dendrogram flag", colormap.ErrMalformedState)
	}
	var enabled bool
	switch state[i+1:] {
	case "1", "true":
		enabled = true
	case "0", "false":
	default:
		return fmt.Errorf("%w: dendrogram flag %q", colormap.ErrMalformedState, state[i+1:])
	}
	s, err := colormap.Parse(state[:i])
	if err != nil {
		return err
	}
	d.SetScheme(s)
	d.SetDendrogramEnabled(enabled, done)
	return nil
}
