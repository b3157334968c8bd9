// The main package for the swatchsync executable.
package main

import (
	"github.com/swatchlab/swatchsync/cmd"
)

func main() {
	cmd.Execute()
}
