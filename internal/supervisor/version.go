package supervisor

// Version is the daemon's protocol/release version string, reported via
// GetVersion.
const Version = "0.1.0"
