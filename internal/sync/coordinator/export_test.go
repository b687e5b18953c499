package coordinator

// NeedsRestart exposes needsRestart to the external tests
var NeedsRestart = needsRestart
