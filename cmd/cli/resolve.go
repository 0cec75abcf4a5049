package cli

import (
	"github.com/spf13/cobra"

	"github.com/turtacn/s2s/internal/application/dto"
	"github.com/turtacn/s2s/internal/bootstrap"
)

func newResolveCommand(opts *globalOptions, build runtimeBuilder) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve ENV SLUG VERSION",
		Short: "Resolve a target through the configured discovery provider.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), opts, build, func(rt *bootstrap.Runtime) error {
				target, err := rt.Resolver.ResolveTarget(cmd.Context(), args[0], args[1], args[2])
				if err != nil {
					return err
				}
				printJSON(cmd.OutOrStdout(), dto.SuccessResponse(dto.NewTargetResponse(target), ""))
				return nil
			})
		},
	}
}
