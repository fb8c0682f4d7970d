package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/gnemet/datatables/internal/config"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [files...]",
		Short: "Check configuration files against the schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{configPath}
			}

			out := cmd.OutOrStdout()
			allValid := true
			for _, path := range args {
				err := config.Validate(path)
				if err == nil {
					fmt.Fprintf(out, "✅ %s is valid.\n", filepath.Base(path))
					continue
				}
				allValid = false

				var verr *config.ValidationError
				if errors.As(err, &verr) {
					fmt.Fprintf(out, "❌ %s is invalid!\n", filepath.Base(path))
					for _, desc := range verr.Errors {
						fmt.Fprintf(out, "   - %s\n", desc)
					}
					continue
				}
				fmt.Fprintf(out, "❌ Error validating %s: %v\n", filepath.Base(path), err)
			}

			if !allValid {
				return errors.New("validation failed")
			}
			return nil
		},
	}
}
