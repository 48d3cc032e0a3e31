package example

type StreamEventType string

const (
	EventValid   StreamEventType = "valid"
	EventInvalid StreamEventType = "invalid"
)

type RestrictionCategory string

const (
	RestrictionSecurity RestrictionCategory = "security"
)

// Reason has no constants, so any string goes.
type Reason string

type StreamEvent struct {
	Type   StreamEventType
	Reason Reason
}

type Omitted struct {
	Category RestrictionCategory
}

func bad() {
	ev := &StreamEvent{}
	ev.Type = "done" // want "enum field Type assigned string literal"

	_ = Omitted{Category: "confidential"} // want "enum field Category assigned string literal"
}

func good() {
	ev := &StreamEvent{}
	ev.Type = EventValid // OK: using constant
	ev.Reason = "duplicate"

	_ = Omitted{Category: RestrictionSecurity}
}

func alsoGood() {
	// OK: Variable, not literal
	kind := EventInvalid
	ev := &StreamEvent{Type: kind}
	_ = ev
}
