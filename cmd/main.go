package main

import (
	"github.com/agent-uploader/cmd/agent"
)

func main() {
	agent.Execute()
}
