// Command toxecho runs the echo bot and inspects its save files.
//
// Usage:
//
//	toxecho run --config echobot.yaml --metrics-addr :9090
//	toxecho run --demo --duration 10s
//	toxecho savedata inspect echobot.data --passphrase secret
package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.WithError(err).Error("toxecho failed")
		os.Exit(1)
	}
}
