package application

// Metrics receives pipeline counters.
type Metrics interface {
	SessionStarted()
	SessionStopped()
	UtteranceFinalized()
	UtteranceDropped()
	RequestIssued()
	ResultDiscarded()
	RequestFailed(kind string)
	CodeInserted()
	CodeRejected()
}

type NoopMetrics struct{}

func (NoopMetrics) SessionStarted()        {}
func (NoopMetrics) SessionStopped()        {}
func (NoopMetrics) UtteranceFinalized()    {}
func (NoopMetrics) UtteranceDropped()      {}
func (NoopMetrics) RequestIssued()         {}
func (NoopMetrics) ResultDiscarded()       {}
func (NoopMetrics) RequestFailed(_ string) {}
func (NoopMetrics) CodeInserted()          {}
func (NoopMetrics) CodeRejected()          {}
