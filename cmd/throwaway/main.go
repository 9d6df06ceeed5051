package main

import (
	"github.com/rukai/aws-throwaway/cmd/throwaway/commands"
)

func main() {
	commands.Execute()
}
