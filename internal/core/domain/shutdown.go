package domain

// ShutdownReason is the machine-readable cause handed to the host when the
// process decides to stop.
type ShutdownReason string

const (
	ShutdownNone                ShutdownReason = "none"
	ShutdownHostingEnvironment  ShutdownReason = "hosting_environment"
	ShutdownConfigurationChange ShutdownReason = "configuration_change"
	ShutdownIdleTimeout         ShutdownReason = "idle_timeout"
	ShutdownRuntimeClose        ShutdownReason = "runtime_close"
	ShutdownInitializationError ShutdownReason = "initialization_error"
)

// ShutdownFunc is invoked by the host lifecycle when shutdown is decided.
type ShutdownFunc func(reason ShutdownReason, message string)
