package assistant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/routeworks/fleetpilot/internal/stream"
)

type scriptedSender struct {
	attempts int
	script   func(attempt int, fn stream.DeltaFunc) (string, error)
}

func (s *scriptedSender) Send(_ context.Context, _ Request, fn stream.DeltaFunc) (string, error) {
	s.attempts++
	return s.script(s.attempts, fn)
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
}

func TestRetryRecoversFromTransientFailure(t *testing.T) {
	sender := &scriptedSender{script: func(attempt int, fn stream.DeltaFunc) (string, error) {
		if attempt < 3 {
			return "", &Error{Kind: KindNetwork, Err: errors.New("connection reset")}
		}
		return "answer", nil
	}}
	sup := NewSupervisor(sender, fastPolicy(), nil, nil)

	text, err := sup.Send(context.Background(), Request{}, nil)
	require.NoError(t, err)
	require.Equal(t, "answer", text)
	require.Equal(t, 3, sender.attempts)
}

func TestRetryExhausted(t *testing.T) {
	sender := &scriptedSender{script: func(int, stream.DeltaFunc) (string, error) {
		return "", &Error{Kind: KindNetwork, Err: errors.New("connection reset")}
	}}
	sup := NewSupervisor(sender, fastPolicy(), nil, nil)

	_, err := sup.Send(context.Background(), Request{}, nil)
	require.Error(t, err)
	require.Equal(t, 3, sender.attempts)

	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindNetwork, kind)
}

func TestNoRetryOnTerminalFailure(t *testing.T) {
	for _, kind := range []Kind{KindAuth, KindServerRejected, KindRequestTimeout, KindStreamTimeout, KindStreamExhausted} {
		t.Run(kind.String(), func(t *testing.T) {
			sender := &scriptedSender{script: func(int, stream.DeltaFunc) (string, error) {
				return "", &Error{Kind: kind}
			}}
			sup := NewSupervisor(sender, fastPolicy(), nil, nil)

			_, err := sup.Send(context.Background(), Request{}, nil)
			require.Error(t, err)
			require.Equal(t, 1, sender.attempts)
		})
	}
}

func TestNoRetryOnUnclassifiedError(t *testing.T) {
	sender := &scriptedSender{script: func(int, stream.DeltaFunc) (string, error) {
		return "", errors.New("something else entirely")
	}}
	sup := NewSupervisor(sender, fastPolicy(), nil, nil)

	_, err := sup.Send(context.Background(), Request{}, nil)
	require.Error(t, err)
	require.Equal(t, 1, sender.attempts)
}

func TestRetryHookFiresBeforeResubmission(t *testing.T) {
	sender := &scriptedSender{script: func(attempt int, fn stream.DeltaFunc) (string, error) {
		if attempt == 1 {
			fn("partial pre")
			return "", &Error{Kind: KindNetwork, Err: errors.New("reset mid-stream")}
		}
		fn("full answer")
		return "full answer", nil
	}}
	sup := NewSupervisor(sender, fastPolicy(), nil, nil)

	var resets []int
	sup.OnRetry = func(attempt int, err error) {
		resets = append(resets, attempt)
		require.Error(t, err)
	}

	var deltas []string
	text, err := sup.Send(context.Background(), Request{}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "full answer", text)
	require.Equal(t, []int{2}, resets)
	require.Equal(t, []string{"partial pre", "full answer"}, deltas)
}

func TestRetryCanceledDuringBackoff(t *testing.T) {
	sender := &scriptedSender{script: func(int, stream.DeltaFunc) (string, error) {
		return "", &Error{Kind: KindNetwork, Err: errors.New("connection reset")}
	}}
	sup := NewSupervisor(sender, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Minute, MaxDelay: time.Minute}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := sup.Send(ctx, Request{}, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), 10*time.Second)
	require.Equal(t, 1, sender.attempts)
}

func TestBackoffDoubling(t *testing.T) {
	sup := NewSupervisor(&scriptedSender{}, RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 10 * time.Second}, nil, nil)

	require.Equal(t, time.Second, sup.backoff(1))
	require.Equal(t, 2*time.Second, sup.backoff(2))
	require.Equal(t, 4*time.Second, sup.backoff(3))
	require.Equal(t, 8*time.Second, sup.backoff(4))
	require.Equal(t, 10*time.Second, sup.backoff(5))
}
