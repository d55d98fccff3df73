package main

import "github.com/oshokin/doorbell-monitor/cmd/doorbell-monitor/cmd"

func main() {
	cmd.Execute()
}
