package core

// Progress is reported at every step boundary of a filter or merge pass.
type Progress struct {
	Stage     string
	Completed int
	Total     int
	Err       error
}

// ProgressFunc receives progress updates and returns true to request cancellation.
type ProgressFunc func(Progress) bool

// Report invokes f if it is non-nil and returns its cancel decision.
func (f ProgressFunc) Report(p Progress) bool {
	if f == nil {
		return false
	}
	return f(p)
}
