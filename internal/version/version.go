package version

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// GeneratingSoftware is the string written into the LAS header's
// 32-byte "generating software" field.
func GeneratingSoftware() string {
	s := "dartlas " + Version
	if len(s) > 32 {
		s = s[:32]
	}
	return s
}
