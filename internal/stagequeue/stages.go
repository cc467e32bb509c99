package stagequeue

// Stages bundles the three pipeline queues. Instances are constructed
// explicitly and passed by reference so tests can run isolated pipelines.
type Stages struct {
	Intake   *Queue
	Pending  *Queue
	Download *Queue
}

// Sizes is a point-in-time view of the three queue lengths.
type Sizes struct {
	Intake   int `json:"intake"`
	Pending  int `json:"pending"`
	Download int `json:"download_queue"`
}

// NewStages returns the three queues of a fresh pipeline.
func NewStages() *Stages {
	return &Stages{
		Intake:   New("intake"),
		Pending:  New("pending"),
		Download: New("download"),
	}
}

// Sizes reads each queue length under its own lock. No lock spans all three,
// so the triple is only approximately simultaneous; individual fields are
// never torn.
func (s *Stages) Sizes() Sizes {
	return Sizes{
		Intake:   s.Intake.Len(),
		Pending:  s.Pending.Len(),
		Download: s.Download.Len(),
	}
}

// Close wakes every worker blocked on any of the stages.
func (s *Stages) Close() {
	s.Intake.Close()
	s.Pending.Close()
	s.Download.Close()
}
