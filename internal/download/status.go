package download

// Status is the lifecycle state of a single model download.
type Status string

const (
	StatusIdle        Status = "IDLE"
	StatusDownloading Status = "DOWNLOADING"
	StatusCompleted   Status = "COMPLETED"
	StatusFailed      Status = "FAILED"
)

// validNext encodes the allowed transitions. A fetch may resolve straight
// from IDLE when the file is already complete or the probe fails before any
// byte transfers; terminal states only restart through a fresh Fetch.
var validNext = map[Status][]Status{
	StatusIdle:        {StatusDownloading, StatusCompleted, StatusFailed},
	StatusDownloading: {StatusCompleted, StatusFailed},
	StatusCompleted:   {StatusDownloading},
	StatusFailed:      {StatusDownloading},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, s := range validNext[from] {
		if s == to {
			return true
		}
	}
	return false
}

// tracker walks one fetch through the lifecycle. Illegal jumps are refused:
// the status stays where it is, so a terminal state can never regress or
// flip to the other terminal.
type tracker struct {
	cur Status
}

func (t *tracker) to(next Status) Status {
	if next == t.cur || CanTransition(t.cur, next) {
		t.cur = next
	}
	return t.cur
}
