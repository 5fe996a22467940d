package core

// Version is the engine release version reported by /healthz and the
// build info metric.
const Version = "0.4.0"
