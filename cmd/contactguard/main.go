// Command contactguard runs the abuse mitigation proxy in front of a contact endpoint.
package main

import "github.com/seymr/contactguard/cmd/contactguard/cmd"

func main() {
	cmd.Execute()
}
