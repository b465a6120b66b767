package version

// Version is the current version of the snoip server
const Version = "0.1.0"

// ServerName returns the identification string used in logs
func ServerName() string {
	return "snoipd/" + Version
}
