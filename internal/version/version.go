package version

// Version is the standalone release version.
const Version = "0.1.0"
