package commands

import (
	"fmt"

	"github.com/natternet/natter/src/version"
	"github.com/spf13/cobra"
)

// NewVersionCmd shows the version
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.Version)
		},
	}
}
