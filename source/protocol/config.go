package protocol

// Config carries the option set recognized by the reliability core. Every
// field has a documented default; a zero Config is not valid and must be
// filled in with DefaultConfig before use.
type Config struct {
	BindIPv4Port uint16
	// BindIPv6Port is optional; a zero value means the IPv6 endpoint is not
	// bound.
	BindIPv6Port uint16

	MaxSessions uint32

	PerSessionTickMs uint32

	LivenessTimeoutMs uint32

	RecoveryStoreCapacity uint32

	MaxCompoundSizeBytes uint32

	DefaultMTUCap uint16
}

// DefaultConfig returns the engine's documented defaults.
func DefaultConfig() Config {
	return Config{
		BindIPv4Port:          19132,
		BindIPv6Port:          0,
		MaxSessions:           1024,
		PerSessionTickMs:      100,
		LivenessTimeoutMs:     10000,
		RecoveryStoreCapacity: 4096,
		MaxCompoundSizeBytes:  4 * 1024 * 1024,
		DefaultMTUCap:         1400,
	}
}
