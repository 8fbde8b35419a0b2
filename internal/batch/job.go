package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"reflect"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsbatch "github.com/aws/aws-sdk-go-v2/service/batch"
	batchtypes "github.com/aws/aws-sdk-go-v2/service/batch/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/weftlabs/weft/internal/config"
	"github.com/weftlabs/weft/internal/resource"
)

const sectionJobs = "jobs"

// StagingPrefix roots every payload key in the output bucket.
const StagingPrefix = "weft.jobs"

const defaultPollInterval = 5 * time.Second

// S3API is the subset of the S3 client the engine stages payloads
// through.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Spec describes a job to submit.
type Spec struct {
	Name       string
	Queue      string // queue name or ARN
	Definition *Definition
	Input      any

	// ArrayJob fans Input (which must be a slice) out into one array
	// element per item.
	ArrayJob bool

	// Starmap marks each element of Input as pre-expanded positional
	// arguments. Recorded in the staged payload for the consumer.
	Starmap bool

	// Env is merged into the container environment at submission.
	Env map[string]string

	// SSE is the server-side encryption choice applied to staged
	// payloads, empty for none.
	SSE string
}

// Job is one submitted (or reattached) remote job.
type Job struct {
	resource.Base
	api BatchAPI
	s3  S3API

	id        string
	queue     string
	def       *Definition
	input     any
	arrayJob  bool
	arraySize int
	starmap   bool
	sse       string

	pollInterval time.Duration
}

// payload is the staged input envelope.
type payload struct {
	Input   any  `json:"input"`
	Starmap bool `json:"starmap"`
}

// Submit validates spec, submits the job, then stages its input.
// Submission comes first because the staging key needs the job id; the
// consumer side tolerates the brief window where the job exists but
// its input is not staged yet.
func Submit(ctx context.Context, api BatchAPI, s3api S3API, spec Spec) (*Job, error) {
	base, err := resource.NewBase(spec.Name)
	if err != nil {
		return nil, err
	}
	if spec.Definition == nil {
		return nil, &resource.InputError{Msg: "job needs a definition"}
	}
	if spec.Queue == "" {
		return nil, &resource.InputError{Msg: "job needs a queue"}
	}
	if spec.Input == nil {
		return nil, &resource.InputError{Msg: "job needs an input"}
	}

	j := &Job{
		Base:         base,
		api:          api,
		s3:           s3api,
		queue:        spec.Queue,
		def:          spec.Definition,
		input:        spec.Input,
		arrayJob:     spec.ArrayJob,
		starmap:      spec.Starmap,
		sse:          spec.SSE,
		pollInterval: defaultPollInterval,
	}

	in := &awsbatch.SubmitJobInput{
		JobName:       aws.String(spec.Name),
		JobQueue:      aws.String(spec.Queue),
		JobDefinition: aws.String(spec.Definition.ARN),
	}
	if spec.ArrayJob {
		size, err := sliceLen(spec.Input)
		if err != nil {
			return nil, err
		}
		j.arraySize = size
		in.ArrayProperties = &batchtypes.ArrayProperties{Size: aws.Int32(int32(size))}
	}
	if len(spec.Env) > 0 {
		in.ContainerOverrides = &batchtypes.ContainerOverrides{Environment: envPairs(spec.Env)}
	}

	out, err := api.SubmitJob(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("failed to submit job %s: %w", spec.Name, err)
	}
	j.id = aws.ToString(out.JobId)

	if err := j.stageInput(ctx); err != nil {
		return nil, fmt.Errorf("job %s submitted but staging its input failed: %w", j.id, err)
	}

	if err := config.AddResource(j.SectionName(sectionJobs), j.id, spec.Name); err != nil {
		return nil, err
	}
	log.Printf("[batch] Submitted job %s (%s)", spec.Name, j.id)
	return j, nil
}

// Reattach reconstructs a job from the remote queue's record of jobID.
// The queue having no record of the id is a *resource.NotFoundError.
// Staged input that has already expired is tolerated: the job comes
// back with a nil input.
func Reattach(ctx context.Context, api BatchAPI, s3api S3API, jobID, outputBucket string) (*Job, error) {
	out, err := api.DescribeJobs(ctx, &awsbatch.DescribeJobsInput{Jobs: []string{jobID}})
	if err != nil {
		return nil, err
	}
	if len(out.Jobs) == 0 {
		return nil, &resource.NotFoundError{ID: jobID}
	}
	detail := out.Jobs[0]

	def, err := DescribeDefinition(ctx, api, aws.ToString(detail.JobDefinition), outputBucket)
	if err != nil {
		return nil, err
	}

	base, err := resource.NewBase(aws.ToString(detail.JobName))
	if err != nil {
		return nil, err
	}
	j := &Job{
		Base:         base,
		api:          api,
		s3:           s3api,
		id:           jobID,
		queue:        aws.ToString(detail.JobQueue),
		def:          def,
		pollInterval: defaultPollInterval,
	}
	if detail.ArrayProperties != nil {
		j.arrayJob = true
		j.arraySize = int(aws.ToInt32(detail.ArrayProperties.Size))
	}

	if err := j.loadInput(ctx); err != nil {
		return nil, err
	}

	if err := config.AddResource(j.SectionName(sectionJobs), jobID, j.Name()); err != nil {
		return nil, err
	}
	log.Printf("[batch] Reattached job %s (%s)", j.Name(), jobID)
	return j, nil
}

// ID returns the remote job id.
func (j *Job) ID() string { return j.id }

// Queue returns the queue the job was submitted to.
func (j *Job) Queue() string { return j.queue }

// Definition returns the job definition reference.
func (j *Job) Definition() *Definition { return j.def }

// Input returns the job's input, or nil for a reattached job whose
// staged input is gone.
func (j *Job) Input() any { return j.input }

// ArrayJob reports whether this is an array job.
func (j *Job) ArrayJob() bool { return j.arrayJob }

// Status is a point-in-time snapshot of the remote job state.
type Status struct {
	State    batchtypes.JobStatus
	Reason   string
	Attempts int
}

// Status fetches the job's current remote state.
func (j *Job) Status(ctx context.Context) (*Status, error) {
	out, err := j.api.DescribeJobs(ctx, &awsbatch.DescribeJobsInput{Jobs: []string{j.id}})
	if err != nil {
		return nil, err
	}
	if len(out.Jobs) == 0 {
		return nil, &resource.NotFoundError{ID: j.id}
	}
	detail := out.Jobs[0]
	return &Status{
		State:    detail.Status,
		Reason:   aws.ToString(detail.StatusReason),
		Attempts: len(detail.Attempts),
	}, nil
}

// Done reports whether the job is terminal from the caller's point of
// view: SUCCEEDED, or FAILED with the retry ceiling exhausted. FAILED
// with retries left is not done; the remote scheduler may still retry.
func (j *Job) Done(ctx context.Context) (bool, error) {
	st, err := j.Status(ctx)
	if err != nil {
		return false, err
	}
	return done(st, j.def.Retries), nil
}

func done(st *Status, retries int) bool {
	switch st.State {
	case batchtypes.JobStatusSucceeded:
		return true
	case batchtypes.JobStatusFailed:
		return st.Attempts >= retries
	default:
		return false
	}
}

// Result blocks until the job is done or timeout elapses, polling on a
// fixed interval, then collects the staged output. Array jobs yield a
// []any ordered by index. A FAILED terminal state is a
// *JobFailedError; an elapsed deadline (or a done job with no staged
// output) is a *JobTimeoutError. The timeout ends the wait, never the
// remote job.
func (j *Job) Result(ctx context.Context, timeout time.Duration) (any, error) {
	if err := j.Guard(j.id); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	var st *Status
	for {
		var err error
		st, err = j.Status(ctx)
		if err != nil {
			return nil, err
		}
		if done(st, j.def.Retries) {
			break
		}
		if time.Now().After(deadline) {
			return nil, &JobTimeoutError{JobID: j.id}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(j.pollInterval):
		}
	}

	if st.State == batchtypes.JobStatusFailed {
		return nil, &JobFailedError{JobID: j.id, Reason: st.Reason}
	}

	if !j.arrayJob {
		return j.scanAttempts(ctx, -1)
	}
	results := make([]any, 0, j.arraySize)
	for i := 0; i < j.arraySize; i++ {
		r, err := j.scanAttempts(ctx, i)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

// scanAttempts walks attempt numbers from the retry ceiling down to
// zero and returns the first staged output found. Elements of an array
// job may have consumed different numbers of retries; only the highest
// existing attempt's output is authoritative.
func (j *Job) scanAttempts(ctx context.Context, index int) (any, error) {
	for attempt := j.def.Retries; attempt >= 0; attempt-- {
		key := j.outputKey(index, attempt)
		out, err := j.s3.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(j.def.OutputBucket),
			Key:    aws.String(key),
		})
		if err != nil {
			if isNoSuchKey(err) {
				continue
			}
			return nil, err
		}
		defer out.Body.Close()
		var result any
		if err := json.NewDecoder(out.Body).Decode(&result); err != nil {
			return nil, fmt.Errorf("failed to decode output at %s: %w", key, err)
		}
		return result, nil
	}
	return nil, &JobTimeoutError{
		JobID:    j.id,
		Bucket:   j.def.OutputBucket,
		Location: j.keyPrefix(index),
	}
}

// Terminate cancels a job that has not started ({SUBMITTED, PENDING,
// RUNNABLE}), terminates one mid-execution ({STARTING, RUNNING}), and
// no-ops on terminal states.
func (j *Job) Terminate(ctx context.Context, reason string) error {
	if err := j.Guard(j.id); err != nil {
		return err
	}
	return j.terminate(ctx, reason)
}

func (j *Job) terminate(ctx context.Context, reason string) error {
	st, err := j.Status(ctx)
	if err != nil {
		return err
	}
	switch st.State {
	case batchtypes.JobStatusSubmitted, batchtypes.JobStatusPending, batchtypes.JobStatusRunnable:
		_, err = j.api.CancelJob(ctx, &awsbatch.CancelJobInput{
			JobId:  aws.String(j.id),
			Reason: aws.String(reason),
		})
	case batchtypes.JobStatusStarting, batchtypes.JobStatusRunning:
		_, err = j.api.TerminateJob(ctx, &awsbatch.TerminateJobInput{
			JobId:  aws.String(j.id),
			Reason: aws.String(reason),
		})
	}
	return err
}

// Clobber terminates the job (idempotently) and removes its durable
// record entry.
func (j *Job) Clobber(ctx context.Context) error {
	if j.Clobbered() {
		return nil
	}
	if err := j.CheckSession(); err != nil {
		return err
	}

	if err := j.terminate(ctx, "job clobbered"); err != nil {
		return err
	}
	if err := config.RemoveResource(j.SectionName(sectionJobs), j.id); err != nil {
		return err
	}
	j.MarkClobbered()
	log.Printf("[batch] Clobbered job %s (%s)", j.Name(), j.id)
	return nil
}

// LogURLs returns one CloudWatch console URL per recorded attempt, in
// start order.
func (j *Job) LogURLs(ctx context.Context) ([]string, error) {
	out, err := j.api.DescribeJobs(ctx, &awsbatch.DescribeJobsInput{Jobs: []string{j.id}})
	if err != nil {
		return nil, err
	}
	if len(out.Jobs) == 0 {
		return nil, &resource.NotFoundError{ID: j.id}
	}

	attempts := append([]batchtypes.AttemptDetail(nil), out.Jobs[0].Attempts...)
	sort.Slice(attempts, func(a, b int) bool {
		return aws.ToInt64(attempts[a].StartedAt) < aws.ToInt64(attempts[b].StartedAt)
	})

	var urls []string
	for _, a := range attempts {
		if a.Container == nil || a.Container.LogStreamName == nil {
			continue
		}
		urls = append(urls, fmt.Sprintf(
			"https://console.aws.amazon.com/cloudwatch/home?region=%s#logEventViewer:group=/aws/batch/job;stream=%s",
			j.Region(), aws.ToString(a.Container.LogStreamName)))
	}
	return urls, nil
}

// stageInput serializes the input to the staging keys: the whole value
// for a single job, one slice element per index for an array job.
func (j *Job) stageInput(ctx context.Context) error {
	if !j.arrayJob {
		return j.putPayload(ctx, j.inputKey(-1), j.input)
	}
	v := reflect.ValueOf(j.input)
	for i := 0; i < v.Len(); i++ {
		if err := j.putPayload(ctx, j.inputKey(i), v.Index(i).Interface()); err != nil {
			return err
		}
	}
	return nil
}

func (j *Job) putPayload(ctx context.Context, key string, input any) error {
	body, err := json.Marshal(payload{Input: input, Starmap: j.starmap})
	if err != nil {
		return fmt.Errorf("failed to serialize input: %w", err)
	}
	in := &s3.PutObjectInput{
		Bucket: aws.String(j.def.OutputBucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}
	if j.sse != "" {
		in.ServerSideEncryption = s3types.ServerSideEncryption(j.sse)
	}
	_, err = j.s3.PutObject(ctx, in)
	return err
}

// loadInput restores the staged input of a reattached job. Only the
// single-job key is read; array inputs are reconstructed per element
// on demand and a missing object simply leaves the input nil.
func (j *Job) loadInput(ctx context.Context) error {
	if j.arrayJob {
		return nil
	}
	out, err := j.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(j.def.OutputBucket),
		Key:    aws.String(j.inputKey(-1)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil
		}
		return err
	}
	defer out.Body.Close()

	var p payload
	if err := json.NewDecoder(io.LimitReader(out.Body, 64<<20)).Decode(&p); err != nil {
		return fmt.Errorf("failed to decode staged input: %w", err)
	}
	j.input = p.Input
	j.starmap = p.Starmap
	return nil
}

// keyPrefix is "<prefix>/<definition>/<job-id>[/<index>]".
func (j *Job) keyPrefix(index int) string {
	p := path.Join(StagingPrefix, j.def.Name, j.id)
	if index >= 0 {
		p = path.Join(p, fmt.Sprint(index))
	}
	return p
}

func (j *Job) inputKey(index int) string {
	return path.Join(j.keyPrefix(index), "input.json")
}

func (j *Job) outputKey(index, attempt int) string {
	return path.Join(j.keyPrefix(index), fmt.Sprintf("%03d", attempt), "output.json")
}

func sliceLen(input any) (int, error) {
	v := reflect.ValueOf(input)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return 0, &resource.InputError{Msg: "array job input must be a slice, one element per array index"}
	}
	return v.Len(), nil
}

func envPairs(env map[string]string) []batchtypes.KeyValuePair {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]batchtypes.KeyValuePair, 0, len(env))
	for _, k := range keys {
		out = append(out, batchtypes.KeyValuePair{Name: aws.String(k), Value: aws.String(env[k])})
	}
	return out
}

func isNoSuchKey(err error) bool {
	var noKey *s3types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var apiErr interface{ ErrorCode() string }
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}
