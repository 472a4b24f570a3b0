package version

// Version is overridden at release time with
// -ldflags "-X github.com/abhishekbhakat/liqui-speak/internal/core/version.Version=x.y.z".
var Version = "0.1.0"
