package integration

// ListPayload is the dual-channel shape for collection results: forModel
// carries only a count and a short summary string, forUser carries the full
// item list.
type ListPayload struct {
	Count   int    `json:"count"`
	Summary string `json:"summary"`
}

// ErrorPayload is the dual-channel shape for failed operations.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewListResult builds a DualChannel list projection: forModel is compact
// (count + summary), forUser carries the full items.
func NewListResult(count int, summary string, items any) DualChannel {
	return DualChannel{
		ForModel: ListPayload{Count: count, Summary: summary},
		ForUser:  items,
	}
}

// NewDetailResult builds a DualChannel detail projection; forModel is the
// caller-supplied compact view, forUser the rich one.
func NewDetailResult(compact, rich any) DualChannel {
	return DualChannel{ForModel: compact, ForUser: rich}
}

// NewErrorResult builds a DualChannel error projection, identical on both
// channels.
func NewErrorResult(code, message string) DualChannel {
	payload := ErrorPayload{Code: code, Message: message}
	return DualChannel{ForModel: payload, ForUser: payload}
}
