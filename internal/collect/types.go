package collect

// Raw interaction events, beaconed by the page as they happen. Timestamps are
// client wall-clock milliseconds so that throttling windows and inter-event
// intervals survive network jitter.

type MouseMove struct {
	Timestamp int64   `json:"timestamp"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Velocity  float64 `json:"velocity"`
}

type Click struct {
	Timestamp   int64   `json:"timestamp"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Target      string  `json:"target"`
	DoubleClick bool    `json:"double_click"`
}

type KeyEvent struct {
	Timestamp int64  `json:"timestamp"`
	Key       string `json:"key"`
	// HoldTime is resolved at key-up; nil when the matching key-down was
	// never observed.
	HoldTime   *float64 `json:"hold_time,omitempty"`
	IsModifier bool     `json:"is_modifier"`
}

type ScrollEvent struct {
	Timestamp  int64   `json:"timestamp"`
	ScrollTop  float64 `json:"scroll_top"`
	ScrollLeft float64 `json:"scroll_left"`
	Speed      float64 `json:"speed"`
}

type RecentAction struct {
	Action    string            `json:"action"`
	Timestamp int64             `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// RawEvent is the wire shape accepted by the ingest endpoint. Kind selects
// which fields are meaningful.
type RawEvent struct {
	Kind      string  `json:"kind"`
	Timestamp int64   `json:"timestamp"`
	X         float64 `json:"x,omitempty"`
	Y         float64 `json:"y,omitempty"`
	Target    string  `json:"target,omitempty"`
	// Password marks events originating in a password-typed field. Key
	// events carrying it are discarded wholesale.
	Password   bool    `json:"password,omitempty"`
	Key        string  `json:"key,omitempty"`
	ScrollTop  float64 `json:"scroll_top,omitempty"`
	ScrollLeft float64 `json:"scroll_left,omitempty"`
	InputType  string  `json:"input_type,omitempty"`
	Visibility string  `json:"visibility,omitempty"`
}

// Event kinds accepted by Collector.Ingest.
const (
	KindMouseMove  = "mouse_move"
	KindClick      = "click"
	KindKeyDown    = "key_down"
	KindKeyUp      = "key_up"
	KindScroll     = "scroll"
	KindInput      = "input"
	KindFocus      = "focus"
	KindBlur       = "blur"
	KindVisibility = "visibility"
)

// State is a consistent point-in-time view of the collector. Buffers are
// copies; callers never observe later mutation.
type State struct {
	SessionID             string
	PageLoadTime          int64
	FirstInteractionTime  int64 // 0 until latched
	FirstInteractionDelay int64 // valid only when FirstInteractionTime != 0
	MouseEvents           []MouseMove
	ClickEvents           []Click
	KeyEvents             []KeyEvent
	ScrollEvents          []ScrollEvent
	RecentActions         []RecentAction
	ScrollPauses          int
	ScrollTotal           int
	TotalClickCount       int
	DoubleClickCount      int
	PasteEvents           int
	InputEvents           int
	FormInteractions      int
}
