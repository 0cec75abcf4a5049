package cli

import (
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/s2s/internal/application"
	"github.com/turtacn/s2s/internal/application/dto"
	"github.com/turtacn/s2s/internal/bootstrap"
	"github.com/turtacn/s2s/pkg/errors"
)

func newCallCommand(opts *globalOptions, build runtimeBuilder) *cobra.Command {
	var (
		method   string
		path     string
		fullPath string
		body     string
		headers  []string
	)
	cmd := &cobra.Command{
		Use:   "call ENV SLUG VERSION",
		Short: "Perform an authenticated call to a target and print the raw response.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := parseHeaders(headers)
			if err != nil {
				return err
			}
			req := application.CallRequest{
				Env:      args[0],
				Slug:     args[1],
				Version:  args[2],
				Method:   strings.ToUpper(method),
				Path:     path,
				FullPath: fullPath,
				Headers:  h,
			}
			if body != "" {
				req.Body = []byte(body)
			}
			return withRuntime(cmd.Context(), opts, build, func(rt *bootstrap.Runtime) error {
				res, err := rt.Dispatcher.Call(cmd.Context(), req)
				if err != nil {
					return err
				}
				printJSON(cmd.OutOrStdout(), dto.SuccessResponse(dto.CallResponse{
					Status:    res.Status,
					Headers:   res.Headers,
					Body:      res.BodyText,
					RequestID: res.RequestID,
				}, res.RequestID))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&method, "method", "X", http.MethodGet, "HTTP method")
	cmd.Flags().StringVar(&path, "path", "", "path appended to the target's base URL")
	cmd.Flags().StringVar(&fullPath, "full-path", "", "path replacing the target's base path")
	cmd.Flags().StringVarP(&body, "data", "d", "", "request body")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, `extra header, "Name: value"`)
	return cmd
}

func parseHeaders(raw []string) (http.Header, error) {
	h := http.Header{}
	for _, line := range raw {
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, errors.InvalidRequest("header", "expected \"Name: value\", got "+line)
		}
		h.Add(name, strings.TrimSpace(value))
	}
	return h, nil
}
