// Command ksef submits FA(3) invoices to the Polish National e-Invoice System.
package main

import "github.com/sirosfoundation/go-ksef/internal/cli"

func main() {
	cli.Execute()
}
