package main

import "github.com/spf13/cobra"

func importCmd(configPath *string) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Catalog a local settlement report file and process it",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.pipeline.ImportFile(cmd.Context(), file)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "path to a settlement details CSV")
	cmd.MarkFlagRequired("file")

	return cmd
}
