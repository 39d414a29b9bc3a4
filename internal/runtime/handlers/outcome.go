package handlers

// OutcomeKind is the closed set of results a handler can report.
type OutcomeKind uint8

const (
	// OutcomeContinue passes the event to the next handler. It is the zero value.
	OutcomeContinue OutcomeKind = iota
	// OutcomeHandled claims the event and ends the dispatch.
	OutcomeHandled
	// OutcomeErrored reports a handler-local failure; dispatch carries on.
	OutcomeErrored
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeHandled:
		return "handled"
	case OutcomeErrored:
		return "errored"
	default:
		return "continue"
	}
}

// Outcome is the result of one Handle call.
type Outcome struct {
	kind  OutcomeKind
	cause error
}

func Handled() Outcome  { return Outcome{kind: OutcomeHandled} }
func Continue() Outcome { return Outcome{kind: OutcomeContinue} }

// Errored reports cause without stopping the dispatch.
func Errored(cause error) Outcome { return Outcome{kind: OutcomeErrored, cause: cause} }

func (o Outcome) Kind() OutcomeKind { return o.kind }
func (o Outcome) Err() error        { return o.cause }
func (o Outcome) IsHandled() bool   { return o.kind == OutcomeHandled }
func (o Outcome) IsErrored() bool   { return o.kind == OutcomeErrored }
func (o Outcome) String() string    { return o.kind.String() }
