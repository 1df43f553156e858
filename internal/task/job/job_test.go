package job

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextDelayUsesInitialOnlyOnce(t *testing.T) {
	t.Parallel()

	j := &Job{Name: "a", InitialDelay: 5 * time.Second, RequeueDelay: 100 * time.Second}
	assert.False(t, j.HasRunBefore())
	assert.Equal(t, 5*time.Second, j.NextDelay())

	j.MarkScheduled()
	assert.True(t, j.HasRunBefore())
	assert.Equal(t, 100*time.Second, j.NextDelay())
}

func TestRequeues(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		job  *Job
		want bool
	}{
		{"recurring", &Job{Name: "gacha-1"}, true},
		{"one shot", &Job{Name: "x", OneShot: true}, false},
		{"pause sentinel", &Job{Name: PauseName}, false},
		{"pause builder", NewPause(nil), false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, tc.job.Requeues())
		})
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	t.Parallel()

	j := &Job{Name: "boom", Action: ActionFunc(func(context.Context, *Job) error {
		panic("kaboom")
	})}
	err := j.Execute(context.Background())
	require.Error(t, err)

	var af *ActionFailed
	require.True(t, errors.As(err, &af))
	assert.Equal(t, "boom", af.Job)
	assert.Contains(t, af.Detail, "kaboom")
	assert.NotEmpty(t, af.Stack)
}

func TestExecuteNilAction(t *testing.T) {
	t.Parallel()
	assert.NoError(t, (&Job{Name: "noop"}).Execute(context.Background()))
}

func TestActionFailedWrapping(t *testing.T) {
	t.Parallel()

	base := errors.New("template not found")
	err := AsActionFailed("pego-1", base)
	assert.ErrorIs(t, err, base)
	assert.True(t, strings.HasPrefix(err.Error(), "action failed (pego-1)"))

	j := &Job{Name: "gacha-2"}
	af := AsActionFailed("ignored", Failf(j, "teleporter %s missing", "tp7"))
	assert.Equal(t, "gacha-2", af.Job)
	assert.Equal(t, "action failed (gacha-2): teleporter tp7 missing", af.Error())

	assert.Nil(t, AsActionFailed("x", nil))
}

func TestKindString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "recurring:gacha", Recurring(FeatureGacha, GroupGacha).String())
	assert.Equal(t, "maintenance:maintenance", Maintenance().String())
	assert.Equal(t, "ephemeral", Kind{}.String())
	assert.True(t, Maintenance().IsMaintenance())
}
