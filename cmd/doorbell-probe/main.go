package main

import "github.com/oshokin/doorbell-monitor/cmd/doorbell-probe/cmd"

func main() {
	cmd.Execute()
}
