package cli

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/turtacn/s2s/internal/application"
	"github.com/turtacn/s2s/internal/application/dto"
	"github.com/turtacn/s2s/internal/bootstrap"
	"github.com/turtacn/s2s/pkg/errors"
)

func newTokenCommand(opts *globalOptions, build runtimeBuilder) *cobra.Command {
	var (
		audience  string
		ttlSec    int64
		issuer    string
		showToken bool
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for an audience and print its claims.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd.Context(), opts, build, func(rt *bootstrap.Runtime) error {
				token, err := rt.Tokens.GetBearerToken(cmd.Context(), application.BearerRequest{
					Audience: audience,
					TTLSec:   ttlSec,
					Issuer:   issuer,
				})
				if err != nil {
					return err
				}
				resp, err := describeToken(token)
				if err != nil {
					return err
				}
				if showToken {
					resp.Token = token
				}
				printJSON(cmd.OutOrStdout(), dto.SuccessResponse(resp, ""))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&audience, "aud", "", "audience (target service slug)")
	cmd.Flags().Int64Var(&ttlSec, "ttl", 300, "token lifetime in seconds")
	cmd.Flags().StringVar(&issuer, "iss", "", "override the configured issuer")
	cmd.Flags().BoolVar(&showToken, "show-token", false, "include the compact token in the output")
	_ = cmd.MarkFlagRequired("aud")
	return cmd
}

// describeToken reads back the header and claims of a token this process minted.
func describeToken(compact string) (*dto.TokenResponse, error) {
	claims := jwt.MapClaims{}
	tok, _, err := jwt.NewParser().ParseUnverified(compact, claims)
	if err != nil {
		return nil, errors.Signing("", "minted token is not parseable", err)
	}
	resp := &dto.TokenResponse{}
	resp.KID, _ = tok.Header["kid"].(string)
	resp.Alg, _ = tok.Header["alg"].(string)
	resp.Issuer, _ = claims.GetIssuer()
	if aud, err := claims.GetAudience(); err == nil && len(aud) > 0 {
		resp.Audience = aud[0]
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		resp.IssuedAt = iat.Unix()
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		resp.ExpiresAt = exp.Unix()
	}
	return resp, nil
}
