// Package batch implements the job submission and result engine: it
// stages JSON inputs in the object store, submits single or array jobs
// against an existing queue and job definition, polls status, and
// reconstructs results per array index with attempt fallback.
package batch

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsbatch "github.com/aws/aws-sdk-go-v2/service/batch"

	"github.com/weftlabs/weft/internal/resource"
)

// BatchAPI is the subset of the Batch client the engine uses.
type BatchAPI interface {
	SubmitJob(ctx context.Context, in *awsbatch.SubmitJobInput, optFns ...func(*awsbatch.Options)) (*awsbatch.SubmitJobOutput, error)
	DescribeJobs(ctx context.Context, in *awsbatch.DescribeJobsInput, optFns ...func(*awsbatch.Options)) (*awsbatch.DescribeJobsOutput, error)
	DescribeJobDefinitions(ctx context.Context, in *awsbatch.DescribeJobDefinitionsInput, optFns ...func(*awsbatch.Options)) (*awsbatch.DescribeJobDefinitionsOutput, error)
	CancelJob(ctx context.Context, in *awsbatch.CancelJobInput, optFns ...func(*awsbatch.Options)) (*awsbatch.CancelJobOutput, error)
	TerminateJob(ctx context.Context, in *awsbatch.TerminateJobInput, optFns ...func(*awsbatch.Options)) (*awsbatch.TerminateJobOutput, error)
}

// Definition is a reference to an existing job definition. The engine
// consumes it but never owns it: definitions are created by the
// caller's tooling and referenced here by name or ARN.
type Definition struct {
	Name string
	ARN  string

	// OutputBucket is where jobs run from this definition stage their
	// payloads.
	OutputBucket string

	// Retries is the definition's retry-attempt ceiling. The result
	// scan walks attempts from here down to zero.
	Retries int
}

// DescribeDefinition resolves nameOrARN against the active ACTIVE
// revisions, picking the highest one. The definition's staged payloads
// live in outputBucket.
func DescribeDefinition(ctx context.Context, api BatchAPI, nameOrARN, outputBucket string) (*Definition, error) {
	in := &awsbatch.DescribeJobDefinitionsInput{Status: aws.String("ACTIVE")}
	if isARN(nameOrARN) {
		in.JobDefinitions = []string{nameOrARN}
	} else {
		in.JobDefinitionName = aws.String(nameOrARN)
	}

	out, err := api.DescribeJobDefinitions(ctx, in)
	if err != nil {
		return nil, err
	}
	if len(out.JobDefinitions) == 0 {
		return nil, &resource.NotFoundError{ID: nameOrARN}
	}

	best := out.JobDefinitions[0]
	for _, d := range out.JobDefinitions[1:] {
		if aws.ToInt32(d.Revision) > aws.ToInt32(best.Revision) {
			best = d
		}
	}

	def := &Definition{
		Name:         aws.ToString(best.JobDefinitionName),
		ARN:          aws.ToString(best.JobDefinitionArn),
		OutputBucket: outputBucket,
	}
	if best.RetryStrategy != nil {
		def.Retries = int(aws.ToInt32(best.RetryStrategy.Attempts))
	}
	return def, nil
}

func isARN(s string) bool {
	return len(s) > 4 && s[:4] == "arn:"
}
