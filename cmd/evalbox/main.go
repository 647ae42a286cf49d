// Command evalbox evaluates untrusted Python and JavaScript inside a
// WebAssembly sandbox and prints the program's final value.
package main

func main() {
	Execute()
}
