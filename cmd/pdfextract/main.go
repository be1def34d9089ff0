// Command pdfextract prints the placeholder extraction record for one PDF.
//
// Usage: pdfextract <path-to-pdf>
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pdf-intake/backend/internal/extract"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "Usage: pdfextract <path-to-pdf>")
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "    ")
	if err := enc.Encode(extract.Placeholder(os.Args[1])); err != nil {
		fmt.Fprintf(os.Stderr, "encode record: %v\n", err)
		os.Exit(1)
	}
}
