// Command mezquit is the CLI front end for the mezquit MQTT client: publish
// and subscribe subcommands built on the public mezquit package.
package main

import (
	"github.com/hlindberg/mezquit/cmd"
)

func main() {
	cmd.Execute()
}
