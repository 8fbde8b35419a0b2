package batch

import (
	"context"

	awsbatch "github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// MockBatch is a mock implementation of BatchAPI.
type MockBatch struct {
	SubmitJobFunc              func(ctx context.Context, in *awsbatch.SubmitJobInput, optFns ...func(*awsbatch.Options)) (*awsbatch.SubmitJobOutput, error)
	DescribeJobsFunc           func(ctx context.Context, in *awsbatch.DescribeJobsInput, optFns ...func(*awsbatch.Options)) (*awsbatch.DescribeJobsOutput, error)
	DescribeJobDefinitionsFunc func(ctx context.Context, in *awsbatch.DescribeJobDefinitionsInput, optFns ...func(*awsbatch.Options)) (*awsbatch.DescribeJobDefinitionsOutput, error)
	CancelJobFunc              func(ctx context.Context, in *awsbatch.CancelJobInput, optFns ...func(*awsbatch.Options)) (*awsbatch.CancelJobOutput, error)
	TerminateJobFunc           func(ctx context.Context, in *awsbatch.TerminateJobInput, optFns ...func(*awsbatch.Options)) (*awsbatch.TerminateJobOutput, error)
}

func (m *MockBatch) SubmitJob(ctx context.Context, in *awsbatch.SubmitJobInput, optFns ...func(*awsbatch.Options)) (*awsbatch.SubmitJobOutput, error) {
	return m.SubmitJobFunc(ctx, in, optFns...)
}

func (m *MockBatch) DescribeJobs(ctx context.Context, in *awsbatch.DescribeJobsInput, optFns ...func(*awsbatch.Options)) (*awsbatch.DescribeJobsOutput, error) {
	return m.DescribeJobsFunc(ctx, in, optFns...)
}

func (m *MockBatch) DescribeJobDefinitions(ctx context.Context, in *awsbatch.DescribeJobDefinitionsInput, optFns ...func(*awsbatch.Options)) (*awsbatch.DescribeJobDefinitionsOutput, error) {
	return m.DescribeJobDefinitionsFunc(ctx, in, optFns...)
}

func (m *MockBatch) CancelJob(ctx context.Context, in *awsbatch.CancelJobInput, optFns ...func(*awsbatch.Options)) (*awsbatch.CancelJobOutput, error) {
	return m.CancelJobFunc(ctx, in, optFns...)
}

func (m *MockBatch) TerminateJob(ctx context.Context, in *awsbatch.TerminateJobInput, optFns ...func(*awsbatch.Options)) (*awsbatch.TerminateJobOutput, error) {
	return m.TerminateJobFunc(ctx, in, optFns...)
}

// MockS3 is a mock implementation of S3API.
type MockS3 struct {
	PutObjectFunc func(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObjectFunc func(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

func (m *MockS3) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return m.PutObjectFunc(ctx, in, optFns...)
}

func (m *MockS3) GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return m.GetObjectFunc(ctx, in, optFns...)
}
