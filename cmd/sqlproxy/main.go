// sqlproxy - intercepting proxy for MariaDB and PostgreSQL wire protocols
package main

import (
	"fmt"
	"os"

	"github.com/mattrobinsonsre/sqlproxy/cmd/sqlproxy/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
