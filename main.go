package main

import "bucketdb/cmd"

func main() {
	cmd.Execute()
}
