// Command s2sctl is the operator CLI of the S2S trust layer.
package main

import "github.com/turtacn/s2s/cmd/cli"

func main() {
	cli.Execute()
}
