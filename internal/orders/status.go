package orders

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipping   Status = "shipping"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
	StatusReturned   Status = "returned"

	// StatusCancelRequested is only ever written to history, never to the order row.
	StatusCancelRequested Status = "cancel_requested"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:    {StatusProcessing: true, StatusCancelled: true},
	StatusProcessing: {StatusShipping: true},
	StatusShipping:   {StatusDelivered: true},
	StatusDelivered:  {StatusReturned: true},
	StatusCancelled:  {StatusRefunded: true},
	StatusRefunded:   {},
	StatusReturned:   {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Cancellable lists the statuses in which a customer may flag a cancel request.
func (s Status) Cancellable() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusShipping:
		return true
	}
	return false
}

// ValidWalk reports whether seq is a walk over the transition graph starting at pending.
// cancel_requested markers are ignored.
func ValidWalk(seq []Status) bool {
	var prev Status
	for _, s := range seq {
		if s == StatusCancelRequested {
			continue
		}
		if prev == "" {
			if s != StatusPending {
				return false
			}
			prev = s
			continue
		}
		if !CanTransition(prev, s) {
			return false
		}
		prev = s
	}
	return prev != ""
}
