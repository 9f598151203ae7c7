// Command metabulo uploads, annotates and transforms metabolomics tables
// and runs PCA on them.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// .env is optional; METABULO_* variables may come from the environment.
	_ = godotenv.Load()

	if err := execute(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
