package form

import (
	"fmt"
	"io"
)

// TextView prints the submit control and toasts as plain lines.
type TextView struct {
	w    io.Writer
	last string
}

func NewTextView(w io.Writer) *TextView {
	return &TextView{w: w}
}

func (v *TextView) Render(st State) {
	var line string
	switch {
	case st.Submitting:
		line = "[Submitting...]"
	case st.CanSubmit:
		line = "[Submit]"
	default:
		line = "[Submit] (disabled)"
	}
	// only report changes of the control
	if line == v.last {
		return
	}
	v.last = line
	fmt.Fprintln(v.w, line)
}

func (v *TextView) Toast(t Toast) {
	if t.IsError {
		fmt.Fprintf(v.w, "error: %s\n", t.Message)
		return
	}
	fmt.Fprintln(v.w, t.Message)
}
