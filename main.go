package main

import "forum-mirror/cli"

func main() {
	cli.Execute()
}
