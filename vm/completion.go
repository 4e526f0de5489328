package vm

import "errors"

// CompletionType tags the outcome of a statement.
type CompletionType uint8

const (
	Normal CompletionType = iota
	Return
	Break
	Continue
	Throw
	// Suspend unwinds the evaluator to the host after a pause was taken at
	// a checkpoint. Each construct records a frame on its way out.
	Suspend
)

var completionNames = [...]string{"normal", "return", "break", "continue", "throw", "suspend"}

func (t CompletionType) String() string { return completionNames[t] }

// Completion is the result of evaluating a statement. Loops absorb Break
// and Continue, functions absorb Return, try absorbs Throw.
type Completion struct {
	Type  CompletionType
	Value Value
	Label string
	Err   error
}

var normal = Completion{Type: Normal}

// errSuspended travels up through expression evaluation from a checkpoint
// that took a pause; statements turn it into a Suspend completion.
var errSuspended = errors.New("vm: suspended")

// fromError converts an expression error into a statement completion.
func fromError(err error) Completion {
	if err == errSuspended {
		return Completion{Type: Suspend}
	}
	return Completion{Type: Throw, Err: err}
}

func hasLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}

// ownsBreak reports whether a loop or switch with the given labels absorbs c.
func ownsBreak(c Completion, labels []string) bool {
	return c.Type == Break && (c.Label == "" || hasLabel(labels, c.Label))
}

func ownsContinue(c Completion, labels []string) bool {
	return c.Type == Continue && (c.Label == "" || hasLabel(labels, c.Label))
}
