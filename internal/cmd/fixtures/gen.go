package fixtures

import (
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// newGenerateCommand writes a products file for exercising imports. A slice
// of the rows reuse earlier skus with different casing, and a slice are
// malformed, so dedup and error sampling both get coverage.
func newGenerateCommand() *cobra.Command {
	var records int
	var output string
	var duplicatePct int
	var malformedPct int

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generates a products CSV for testing imports",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			defer f.Close()

			w := csv.NewWriter(f)
			defer w.Flush()

			if err := w.Write([]string{"sku", "name", "description"}); err != nil {
				return err
			}

			for i := 0; i < records; i++ {
				switch {
				case i > 0 && rand.Intn(100) < duplicatePct:
					// Re-emit an earlier sku with shuffled casing.
					sku := varyCase(fmt.Sprintf("sku-%06d", rand.Intn(i)))
					err = w.Write([]string{sku, fmt.Sprintf("Product %d (revised)", i), "restocked"})
				case rand.Intn(100) < malformedPct:
					// Missing name, rejected by the importer.
					err = w.Write([]string{fmt.Sprintf("sku-%06d", i), "", "broken row"})
				default:
					err = w.Write([]string{
						fmt.Sprintf("sku-%06d", i),
						fmt.Sprintf("Product %d", i),
						fmt.Sprintf("Description for product %d", i),
					})
				}
				if err != nil {
					return err
				}
			}

			return w.Error()
		},
	}

	cmd.Flags().IntVarP(&records, "records", "n", 10000, "Number of rows to generate")
	cmd.Flags().StringVarP(&output, "output", "o", "products.csv", "Output file path")
	cmd.Flags().IntVar(&duplicatePct, "duplicate-pct", 10, "Percent of rows that repeat an earlier sku")
	cmd.Flags().IntVar(&malformedPct, "malformed-pct", 2, "Percent of rows missing required fields")

	return cmd
}

func varyCase(s string) string {
	var b strings.Builder
	for _, r := range s {
		if rand.Intn(2) == 0 {
			b.WriteString(strings.ToUpper(string(r)))
		} else {
			b.WriteString(string(r))
		}
	}
	return b.String()
}
