package main

import "github.com/kidoz/vmsmoke/cmd"

func main() {
	cmd.Execute()
}
