package models

// InstancePhase is the coarse lifecycle phase of a compute instance
type InstancePhase string

const (
	InstancePhaseProvisioning InstancePhase = "PROVISIONING"
	InstancePhaseRunning      InstancePhase = "RUNNING"
	InstancePhaseTerminated   InstancePhase = "TERMINATED"
)

// InstanceStatus is a live, untrusted snapshot of an instance.
// It is never persisted.
type InstanceStatus struct {
	Exists bool
	Phase  InstancePhase
}

// Gone reports whether the instance can no longer make progress
func (s InstanceStatus) Gone() bool {
	return !s.Exists || s.Phase == InstancePhaseTerminated
}

// Bootstrap describes what an instance does after boot: fetch InputRef,
// run the workload, write ResultRef and then the zero-byte MarkerRef.
type Bootstrap struct {
	InputRef  string
	ResultRef string
	MarkerRef string
}

// NewBootstrap builds the bootstrap payload for one provisioning attempt
func NewBootstrap(inputRef, instanceName string) Bootstrap {
	return Bootstrap{
		InputRef:  inputRef,
		ResultRef: ResultPath(instanceName),
		MarkerRef: MarkerPath(instanceName),
	}
}
