package commands

import (
	"github.com/spf13/cobra"

	"github.com/weftlabs/weft/cmd/weft/handlers"
)

// Configure returns the configure command.
//
// Configure writes the durable store's global settings and flips the
// configured gate; no resource operation is permitted before it runs.
func Configure() *cobra.Command {
	var opts handlers.ConfigureOptions

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Set up the weft configuration and staging resources",
		Long: `Configure validates and persists the global weft settings: the AWS
profile and region to operate in, the default registry repo, and the
S3 staging bucket with its access policy and server-side encryption
choice. Omitted values fall back to the environment and then to
generated defaults.

The staging bucket and its IAM access policy are created (or adopted)
as part of configuration. No other weft command works until configure
has completed.

Example:
  weft configure --region us-west-2 --bucket my-staging-bucket --sse AES256`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Configure(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Profile, "profile", "", "AWS profile to operate with")
	cmd.Flags().StringVar(&opts.Region, "region", "", "AWS region to operate in")
	cmd.Flags().StringVar(&opts.Repo, "repo", "", "Default registry repo for job images")
	cmd.Flags().StringVar(&opts.Bucket, "bucket", "", "S3 staging bucket for job payloads")
	cmd.Flags().StringVar(&opts.SSE, "sse", "", "Server-side encryption for staged payloads (AES256, aws:kms, aws:kms:dsse)")

	return cmd
}
