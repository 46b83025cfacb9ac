package uploader

// State is the scheduler's position in its cycle.
type State int32

const (
	StateWaiting State = iota
	StatePolling
	StateUploading
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StatePolling:
		return "polling"
	case StateUploading:
		return "uploading"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}
