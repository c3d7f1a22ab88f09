package enums

import "fmt"

// HistoryAction tags an entry in the subscription audit trail.
type HistoryAction string

const (
	HistoryActionCreated  HistoryAction = "created"
	HistoryActionUpgraded HistoryAction = "upgraded"
	HistoryActionCanceled HistoryAction = "canceled"
	HistoryActionUpdated  HistoryAction = "updated"
)

var validHistoryActions = []HistoryAction{
	HistoryActionCreated,
	HistoryActionUpgraded,
	HistoryActionCanceled,
	HistoryActionUpdated,
}

// String implements fmt.Stringer.
func (h HistoryAction) String() string {
	return string(h)
}

// IsValid reports whether the value is a known HistoryAction.
func (h HistoryAction) IsValid() bool {
	for _, candidate := range validHistoryActions {
		if candidate == h {
			return true
		}
	}
	return false
}

// ParseHistoryAction converts raw input into a HistoryAction.
func ParseHistoryAction(value string) (HistoryAction, error) {
	for _, candidate := range validHistoryActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid history action %q", value)
}
