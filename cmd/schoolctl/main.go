package main

import "school-admin/cmd/schoolctl/cmd"

func main() {
	cmd.Execute()
}
