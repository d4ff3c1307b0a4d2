// Command teamlead supervises lead agents and their teammates.
package main

func main() {
	Execute()
}
