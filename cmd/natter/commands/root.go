package commands

import (
	"github.com/natternet/natter/src/config"
	"github.com/spf13/cobra"
)

var (
	_config = config.NewDefaultConfig()
)

// RootCmd is the root command for natter
var RootCmd = &cobra.Command{
	Use:              "natter",
	Short:            "peer-to-peer chat over replicated logs",
	TraverseChildren: true,
}
