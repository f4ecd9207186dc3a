package main

import "example.com/backstage/services/orders/cmd"

func main() {
	cmd.Execute()
}
