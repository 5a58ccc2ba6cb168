package models

var orderTransitions = map[string][]string{
	OrderPending:    {OrderProcessing, OrderFailed, OrderCancelled},
	OrderProcessing: {OrderCompleted, OrderPartial, OrderFailed, OrderCancelled},
	OrderCompleted:  {OrderRefilling},
	OrderRefilling:  {OrderCompleted},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to string) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionSources lists every status an order may reach the target from,
// filtered to the candidates given. It is used to build guarded updates.
func TransitionSources(to string, candidates ...string) []string {
	var out []string
	for _, from := range candidates {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// IsTerminal reports whether no further transition can leave the status.
func IsTerminal(status string) bool {
	return len(orderTransitions[status]) == 0
}
