package main

import "lti-booking/cmd"

func main() {
	cmd.Execute()
}
