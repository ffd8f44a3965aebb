// Command prefsauth-admin manages the prefsauth database: schema
// migrations and provisioning of clients, credentials, safes and SSO
// providers.
package main

import (
	"os"
)

// version can be set during build with -ldflags
var version = "dev"

func main() {
	root := newRootCmd(defaultDeps())
	root.Version = version
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
