package verify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/forgelabs/engine/internal/ticket"
)

func TestClassify(t *testing.T) {
	retryable := []error{
		errors.New("dial tcp: i/o timeout"),
		errors.New("connection reset by peer"),
		errors.New("received 503 from upstream"),
		errors.New("429 Too Many Requests"),
		errors.New("you are being rate limited"),
	}
	for _, err := range retryable {
		assert.True(t, Classify(err), err.Error())
	}

	fatal := []error{
		errors.New("malformed patch: search text not found"),
		errors.New("invalid acceptance criteria format"),
	}
	for _, err := range fatal {
		assert.False(t, Classify(err), err.Error())
	}
}

type fakeSink struct {
	saved map[int][]string
}

func (f *fakeSink) SaveFeedback(_ context.Context, _ string, attempt int, feedback []string) error {
	if f.saved == nil {
		f.saved = map[int][]string{}
	}
	f.saved[attempt] = feedback
	return nil
}

type fakeStatusSink struct {
	status ticket.VerificationStatus
	set    bool
}

func (f *fakeStatusSink) SetVerificationStatus(_ context.Context, _ string, status ticket.VerificationStatus) error {
	f.status = status
	f.set = true
	return nil
}

func TestRun_PassesOnFirstAttempt(t *testing.T) {
	log := zap.NewNop()
	calls := 0
	statusSink := &fakeStatusSink{}
	out, err := Run(context.Background(), log, nil, DefaultParams(), nil, statusSink, "t-1", func(ctx context.Context, n int) (Response, error) {
		calls++
		return Response{Status: StatusPassed}, nil
	})
	require.NoError(t, err)
	assert.True(t, out.Passed)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, out.Attempts)
	assert.True(t, statusSink.set)
	assert.Equal(t, ticket.VerificationPassed, statusSink.status)
}

func TestRun_FlakesTwiceThenPasses(t *testing.T) {
	log := zap.NewNop()
	sink := &fakeSink{}
	params := DefaultParams()
	params.BaseDelay = 0 // don't actually sleep in the test
	params.Cap = 0

	calls := 0
	out, err := Run(context.Background(), log, nil, params, sink, nil, "t-1", func(ctx context.Context, n int) (Response, error) {
		calls++
		if calls < 3 {
			return Response{Status: StatusFailed, FeedbackForAgent: []string{"nope"}}, nil
		}
		return Response{Status: StatusPassed}, nil
	})
	require.NoError(t, err)
	assert.True(t, out.Passed)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, out.Attempts)
	assert.Len(t, sink.saved, 2, "feedback must be persisted for each failed attempt")
}

func TestRun_ExhaustsRetries(t *testing.T) {
	log := zap.NewNop()
	params := DefaultParams()
	params.BaseDelay = 0
	params.Cap = 0

	statusSink := &fakeStatusSink{}
	out, err := Run(context.Background(), log, nil, params, nil, statusSink, "t-1", func(ctx context.Context, n int) (Response, error) {
		return Response{Status: StatusFailed, FeedbackForAgent: []string{"still broken"}}, nil
	})
	require.NoError(t, err)
	assert.False(t, out.Passed)
	assert.True(t, out.Exhausted)
	assert.Equal(t, params.MaxRetries, out.Attempts)
	assert.Equal(t, ticket.VerificationFailed, statusSink.status)
}

func TestRun_FatalErrorStopsImmediately(t *testing.T) {
	log := zap.NewNop()
	calls := 0
	out, err := Run(context.Background(), log, nil, DefaultParams(), nil, nil, "t-1", func(ctx context.Context, n int) (Response, error) {
		calls++
		return Response{}, errors.New("malformed generator output")
	})
	require.Error(t, err)
	assert.False(t, out.Passed)
	assert.Equal(t, 1, calls, "a fatal (non-retryable) error must not be retried")
}
