package escalator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kidoz/vmsmoke/internal/result"
)

// countingStrategy returns a strategy that records how often it ran and
// yields the given result or error.
func countingStrategy(name string, calls *int, res result.CommandResult, err error) Strategy {
	return Strategy{
		Name: name,
		Run: func(context.Context) (result.CommandResult, error) {
			*calls++
			return res, err
		},
	}
}

func fault(kind result.ErrorKind) error {
	return result.NewFault(kind, "test", errors.New(string(kind)))
}

func newTestEscalator() *Escalator {
	return New(zap.NewNop())
}

func TestExecute_EmptyPolicy(t *testing.T) {
	res, err := newTestEscalator().Execute(context.Background(), Policy{Name: "reboot"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyPolicy)
	assert.Equal(t, result.KindConfiguration, result.KindOf(err))
	assert.False(t, res.Succeeded)
	assert.Equal(t, result.KindConfiguration, res.ErrorKind)
}

func TestExecute_RetryableFaultEscalates(t *testing.T) {
	var first, second int
	want := result.Exited("platform restart vm-1", 0, true, "")
	p := NewPolicy("reboot", result.DefaultRetryable(),
		countingStrategy("ssh", &first, result.CommandResult{}, fault(result.KindConnectionRefused)),
		countingStrategy("platform", &second, want, nil),
	)

	res, err := newTestEscalator().Execute(context.Background(), p)

	require.NoError(t, err)
	assert.True(t, res.Succeeded)
	assert.Equal(t, "platform", res.Strategy)
	assert.Equal(t, result.KindNone, res.ErrorKind)
	require.Len(t, res.Escalations, 1)
	assert.Equal(t, "ssh", res.Escalations[0].Strategy)
	assert.Equal(t, result.KindConnectionRefused, res.Escalations[0].Kind)
	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
}

func TestExecute_AllRetryableFaults(t *testing.T) {
	var a, b, c int
	p := NewPolicy("reboot", result.DefaultRetryable(),
		countingStrategy("a", &a, result.CommandResult{}, fault(result.KindTimeout)),
		countingStrategy("b", &b, result.CommandResult{}, fault(result.KindConnectionRefused)),
		countingStrategy("c", &c, result.CommandResult{}, fault(result.KindAuthFailure)),
	)

	res, err := newTestEscalator().Execute(context.Background(), p)

	require.NoError(t, err)
	assert.False(t, res.Succeeded)
	assert.Equal(t, result.KindAuthFailure, res.ErrorKind)
	assert.Nil(t, res.ExitCode)
	assert.Equal(t, "c", res.Strategy)
	assert.Len(t, res.Escalations, 2)
	assert.Equal(t, []int{1, 1, 1}, []int{a, b, c})
}

func TestExecute_NonRetryableStopsImmediately(t *testing.T) {
	t.Run("single strategy", func(t *testing.T) {
		var calls int
		p := NewPolicy("restart", result.DefaultRetryable(),
			countingStrategy("platform", &calls, result.CommandResult{}, fault(result.KindPlatformUnavailable)),
		)

		res, err := newTestEscalator().Execute(context.Background(), p)

		require.NoError(t, err)
		assert.False(t, res.Succeeded)
		assert.Equal(t, result.KindPlatformUnavailable, res.ErrorKind)
		assert.Equal(t, 1, calls)
	})

	t.Run("later strategies untouched", func(t *testing.T) {
		var first, second int
		p := NewPolicy("reboot", result.DefaultRetryable(),
			countingStrategy("ssh", &first, result.CommandResult{}, fault(result.KindConfiguration)),
			countingStrategy("platform", &second, result.Exited("x", 0, true, ""), nil),
		)

		res, err := newTestEscalator().Execute(context.Background(), p)

		require.NoError(t, err)
		assert.Equal(t, result.KindConfiguration, res.ErrorKind)
		assert.Equal(t, 1, first)
		assert.Equal(t, 0, second)
	})

	t.Run("unclassified error is not retryable", func(t *testing.T) {
		var first, second int
		p := NewPolicy("reboot", result.DefaultRetryable(),
			countingStrategy("ssh", &first, result.CommandResult{}, errors.New("boom")),
			countingStrategy("platform", &second, result.Exited("x", 0, true, ""), nil),
		)

		res, _ := newTestEscalator().Execute(context.Background(), p)

		assert.Equal(t, result.KindUnknown, res.ErrorKind)
		assert.Equal(t, 0, second)
	})
}

func TestExecute_RetryableSetIsPerPolicy(t *testing.T) {
	var first, second int
	p := NewPolicy("reboot", []result.ErrorKind{result.KindTimeout},
		countingStrategy("ssh", &first, result.CommandResult{}, fault(result.KindAuthFailure)),
		countingStrategy("platform", &second, result.Exited("x", 0, true, ""), nil),
	)

	res, err := newTestEscalator().Execute(context.Background(), p)

	require.NoError(t, err)
	assert.Equal(t, result.KindAuthFailure, res.ErrorKind)
	assert.Equal(t, 0, second)
}

func TestExecute_ShortCircuitsOnReturnedResult(t *testing.T) {
	tests := []struct {
		name      string
		returning int // index of the first strategy that returns a result
		soft      bool
	}{
		{"first succeeds", 0, false},
		{"second succeeds", 1, false},
		{"third soft-fails", 2, true},
		{"first soft-fails", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := make([]int, 4)
			var steps []Strategy
			for i := range calls {
				var s Strategy
				switch {
				case i < tt.returning:
					s = countingStrategy("s", &calls[i], result.CommandResult{}, fault(result.KindTimeout))
				default:
					s = countingStrategy("s", &calls[i], result.Exited("cmd", 1, !tt.soft, ""), nil)
				}
				steps = append(steps, s)
			}
			p := NewPolicy("op", result.DefaultRetryable(), steps...)

			res, err := newTestEscalator().Execute(context.Background(), p)
			require.NoError(t, err)
			assert.Equal(t, !tt.soft, res.Succeeded)

			total := 0
			for _, c := range calls {
				total += c
			}
			assert.Equal(t, tt.returning+1, total)
			for i := tt.returning + 1; i < len(calls); i++ {
				assert.Zero(t, calls[i], "strategy %d must not run", i)
			}
		})
	}
}

func TestExecute_SoftFailureDoesNotEscalate(t *testing.T) {
	var first, second int
	p := NewPolicy("reboot", result.DefaultRetryable(),
		countingStrategy("ssh", &first, result.Exited("sudo reboot", 1, false, "permission denied"), nil),
		countingStrategy("platform", &second, result.Exited("x", 0, true, ""), nil),
	)

	res, err := newTestEscalator().Execute(context.Background(), p)

	require.NoError(t, err)
	assert.False(t, res.Succeeded)
	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 1, *res.ExitCode)
	assert.Equal(t, "ssh", res.Strategy)
	assert.Empty(t, res.Escalations)
	assert.Equal(t, 0, second)
}

func TestExecute_AmbiguousResultBecomesConfigurationError(t *testing.T) {
	code := 0
	ambiguous := result.CommandResult{Command: "sudo reboot", ExitCode: &code, ErrorKind: result.KindTimeout, Succeeded: true}
	noExit := result.CommandResult{Command: "sudo reboot", Succeeded: true}

	for name, bad := range map[string]result.CommandResult{
		"exit code and error kind":    ambiguous,
		"succeeded without exit code": noExit,
	} {
		t.Run(name, func(t *testing.T) {
			var first, second int
			p := NewPolicy("reboot", result.DefaultRetryable(),
				countingStrategy("ssh", &first, bad, nil),
				countingStrategy("platform", &second, result.Exited("x", 0, true, ""), nil),
			)

			res, err := newTestEscalator().Execute(context.Background(), p)

			require.NoError(t, err)
			assert.False(t, res.Succeeded)
			assert.Nil(t, res.ExitCode)
			assert.Equal(t, result.KindConfiguration, res.ErrorKind)
			assert.Equal(t, "ssh", res.Strategy)
			assert.NoError(t, res.Validate())
			assert.Equal(t, 0, second)
		})
	}
}

func TestExecute_CancellationStopsEscalation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var second int
	interrupted := Strategy{
		Name: "ssh",
		Run: func(ctx context.Context) (result.CommandResult, error) {
			cancel()
			return result.CommandResult{}, result.NewFault(result.KindTimeout, "ssh", ctx.Err())
		},
	}
	p := NewPolicy("reboot", result.DefaultRetryable(),
		interrupted,
		countingStrategy("platform", &second, result.Exited("x", 0, true, ""), nil),
	)

	res, err := newTestEscalator().Execute(ctx, p)

	require.NoError(t, err)
	assert.Equal(t, 0, second, "no strategy may start after cancellation")
	assert.False(t, res.Succeeded)
	assert.Equal(t, result.KindAborted, res.ErrorKind)
	assert.Equal(t, "platform", res.Strategy)
	require.Len(t, res.Escalations, 1)
	assert.Equal(t, "ssh", res.Escalations[0].Strategy)
}

func TestExecute_CanceledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls int
	p := NewPolicy("reboot", result.DefaultRetryable(),
		countingStrategy("ssh", &calls, result.Exited("x", 0, true, ""), nil),
	)

	res, err := newTestEscalator().Execute(ctx, p)

	require.NoError(t, err)
	assert.Zero(t, calls)
	assert.Equal(t, result.KindAborted, res.ErrorKind)
}

func TestExecute_Idempotent(t *testing.T) {
	var first, second int
	p := NewPolicy("reboot", result.DefaultRetryable(),
		countingStrategy("ssh", &first, result.CommandResult{}, fault(result.KindTimeout)),
		countingStrategy("platform", &second, result.Exited("platform restart vm-1", 0, true, ""), nil),
	)
	e := newTestEscalator()

	r1, err1 := e.Execute(context.Background(), p)
	r2, err2 := e.Execute(context.Background(), p)

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, r1, r2)
	assert.Equal(t, 2, first)
	assert.Equal(t, 2, second)
}

func TestExecute_DeadlineIsRetryableTimeout(t *testing.T) {
	var second int
	slow := Strategy{
		Name: "ssh",
		Run: func(ctx context.Context) (result.CommandResult, error) {
			ctx, cancel := context.WithTimeout(ctx, time.Millisecond)
			defer cancel()
			<-ctx.Done()
			return result.CommandResult{}, ctx.Err()
		},
	}
	p := NewPolicy("reboot", result.DefaultRetryable(),
		slow,
		countingStrategy("platform", &second, result.Exited("x", 0, true, ""), nil),
	)

	res, err := newTestEscalator().Execute(context.Background(), p)

	require.NoError(t, err)
	assert.True(t, res.Succeeded)
	require.Len(t, res.Escalations, 1)
	assert.Equal(t, result.KindTimeout, res.Escalations[0].Kind)
}
