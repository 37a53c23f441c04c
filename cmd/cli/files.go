package cli

// -----------------------------------------------------------------------------
// files.go – download catalog CLI
// -----------------------------------------------------------------------------
// Commands after RegisterFiles(root):
//   files list              – catalog of downloadable files
//   files download <name>   – fetch a blob into Files/
// -----------------------------------------------------------------------------

import (
	"github.com/spf13/cobra"
)

// RegisterFiles wires the files command group onto root.
func RegisterFiles(root *cobra.Command) {
	filesCmd := &cobra.Command{
		Use:   "files",
		Short: "Browse and download files shared in the mesh",
	}
	filesCmd.PersistentFlags().String("api", "", "status API address of the running node")

	list := &cobra.Command{
		Use:   "list",
		Short: "list the file catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return apiGet(cmd, "/files")
		},
	}

	download := &cobra.Command{
		Use:   "download <filename>",
		Short: "download a file from its owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return apiPost(cmd, "/download", map[string]string{"filename": args[0]})
		},
	}

	filesCmd.AddCommand(list, download)
	root.AddCommand(filesCmd)
}
