package version

// Package is the overall, canonical project import path under which the
// package was built.
var Package = "github.com/pierrelefevre/grain"

// Version indicates which version of the binary is running. The default is
// used when the binary is built outside the release pipeline; release builds
// replace it at link time via -X.
var Version = "v0.1.0+unknown"

// Revision is filled with the VCS (e.g. git) revision being used to build
// the program at linking time.
var Revision = ""
