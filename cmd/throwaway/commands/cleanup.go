package commands

import (
	"github.com/spf13/cobra"

	throwaway "github.com/rukai/aws-throwaway"
)

var cleanupApp string

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Destroy every resource this tool owns for the current AWS user",
	Long: `Destroys key pairs, security groups, placement groups, elastic IPs and
instances created by this tool for the current AWS user, including ones
leaked by crashed runs. Resources created by other tools or other users are
never touched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		scope := throwaway.ScopeAll()
		if cleanupApp != "" {
			scope = throwaway.ScopeApp(cleanupApp)
		}
		return throwaway.Cleanup(cmd.Context(), scope)
	},
}

func init() {
	cleanupCmd.Flags().StringVar(&cleanupApp, "app", "", "only destroy resources tagged with this application label")
}
