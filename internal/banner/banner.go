// Package banner renders the startup banner both daemons (cmd/bridge,
// cmd/outbound) print once at boot, after config is loaded and before any
// Asterisk/Realtime connection is attempted.
package banner

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const logo = `
======================================================================
__     __    _           ____       _     _
\ \   / /__ (_) ___ ___ | __ ) _ __(_) __| | __ _  ___
 \ \ / / _ \| |/ __/ _ \|  _ \| '__| |/ _` + "`" + ` |/ _` + "`" + ` |/ _ \
  \ V / (_) | | (_|  __/| |_) | |  | | (_| | (_| |  __/
   \_/ \___/|_|\___\___||____/|_|  |_|\__,_|\__, |\___|
                                             |___/
----------------------------------------------------------------------`

const rule = "======================================================================"

// ConfigLine is one label/value row the banner prints below the service name.
type ConfigLine struct {
	Label string
	Value string
}

// Render builds the banner text for serviceName and config without writing
// it anywhere, so a caller (or a test) can inspect the exact bytes Print
// would emit.
func Render(serviceName string, config []ConfigLine) string {
	var b strings.Builder

	fmt.Fprintln(&b, logo)
	fmt.Fprintln(&b, serviceName)

	maxLen := 0
	for _, c := range config {
		if len(c.Label) > maxLen {
			maxLen = len(c.Label)
		}
	}
	for _, c := range config {
		padding := strings.Repeat(" ", maxLen-len(c.Label))
		fmt.Fprintf(&b, "  %s%s : %s\n", c.Label, padding, c.Value)
	}

	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "Ready.")
	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b)

	return b.String()
}

// Print writes the rendered banner to stdout.
func Print(serviceName string, config []ConfigLine) {
	fprint(os.Stdout, serviceName, config)
}

func fprint(w io.Writer, serviceName string, config []ConfigLine) {
	fmt.Fprint(w, Render(serviceName, config))
}
