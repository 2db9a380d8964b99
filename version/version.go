package version

import "fmt"

// VERSION is set at build time with -ldflags "-X ...version.VERSION=...".
var VERSION = "dev"

func AppVersion() string {
	return fmt.Sprintf("publishing-gateway %s", VERSION)
}
