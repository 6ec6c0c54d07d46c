package createorreplace

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

var configMapResource = schema.GroupResource{Resource: "configmaps"}

func newConfigMap(name, resourceVersion string) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:            name,
			Namespace:       "default",
			ResourceVersion: resourceVersion,
		},
		Data: map[string]string{"first": "1st"},
	}
}

func alreadyExists(name string) error {
	return apierrors.NewAlreadyExists(configMapResource, name)
}

func serverError() error {
	return apierrors.NewInternalError(errors.New("the POST operation could not be completed at this time, please try again"))
}

func badRequest() error {
	return apierrors.NewBadRequest("invalid object")
}

// recordingOps is a scripted Operations implementation that records every call.
type recordingOps struct {
	calls []string

	createErrs []error
	createRVs  []string

	reloadResults []*corev1.ConfigMap
	reloadErr     error
	reloadCalls   int

	replaceErr error
	replacedRV string

	waitErr error

	deleteResult bool
	deleteErr    error
}

func (r *recordingOps) Create(_ context.Context, obj *corev1.ConfigMap) (*corev1.ConfigMap, error) {
	r.calls = append(r.calls, "create")
	r.createRVs = append(r.createRVs, obj.ResourceVersion)
	if len(r.createErrs) > 0 {
		err := r.createErrs[0]
		r.createErrs = r.createErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	out := obj.DeepCopy()
	out.ResourceVersion = "100"
	return out, nil
}

func (r *recordingOps) Replace(_ context.Context, obj *corev1.ConfigMap) (*corev1.ConfigMap, error) {
	r.calls = append(r.calls, "replace")
	r.replacedRV = obj.ResourceVersion
	if r.replaceErr != nil {
		return nil, r.replaceErr
	}
	out := obj.DeepCopy()
	out.ResourceVersion = "101"
	return out, nil
}

func (r *recordingOps) Reload(_ context.Context, _ *corev1.ConfigMap) (*corev1.ConfigMap, error) {
	r.calls = append(r.calls, "reload")
	if r.reloadErr != nil {
		return nil, r.reloadErr
	}
	var result *corev1.ConfigMap
	if r.reloadCalls < len(r.reloadResults) {
		result = r.reloadResults[r.reloadCalls]
	}
	r.reloadCalls++
	return result, nil
}

func (r *recordingOps) Wait(_ context.Context, _ *corev1.ConfigMap) error {
	r.calls = append(r.calls, "wait")
	return r.waitErr
}

func (r *recordingOps) Delete(_ context.Context, _ *corev1.ConfigMap) (bool, error) {
	r.calls = append(r.calls, "delete")
	return r.deleteResult, r.deleteErr
}

// transitionRecorder captures observer callbacks.
type transitionRecorder struct {
	states   []State
	outcome  Outcome
	attempts int
	err      error
}

func (t *transitionRecorder) ObserveTransition(_ string, _, to State) {
	t.states = append(t.states, to)
}

func (t *transitionRecorder) ObserveOutcome(_ string, outcome Outcome, attempts int, err error) {
	t.outcome = outcome
	t.attempts = attempts
	t.err = err
}

func newHelper(ops Operations[*corev1.ConfigMap], obs *transitionRecorder) *Helper[*corev1.ConfigMap] {
	if obs == nil {
		return New[*corev1.ConfigMap](ops, WithObserver(NopObserver{}))
	}
	return New[*corev1.ConfigMap](ops, WithObserver(obs))
}

func TestCreateOrReplace_CreatesWhenAbsent(t *testing.T) {
	ops := &recordingOps{}
	obs := &transitionRecorder{}
	helper := newHelper(ops, obs)

	got, err := helper.CreateOrReplace(context.Background(), newConfigMap("p1", ""), false)
	require.NoError(t, err)

	assert.Equal(t, []string{"create"}, ops.calls)
	assert.Equal(t, "p1", got.Name)
	assert.Equal(t, "100", got.ResourceVersion)
	assert.Equal(t, OutcomeCreated, obs.outcome)
	assert.Equal(t, 1, obs.attempts)
	assert.Equal(t, []State{StateCreating, StateDone}, obs.states)
}

func TestCreateOrReplace_CreateNeverCarriesVersion(t *testing.T) {
	ops := &recordingOps{}
	helper := newHelper(ops, nil)

	_, err := helper.CreateOrReplace(context.Background(), newConfigMap("p1", "42"), false)
	require.NoError(t, err)

	require.Len(t, ops.createRVs, 1)
	assert.Empty(t, ops.createRVs[0])
}

func TestCreateOrReplace_ReplacesOnConflictWithCapturedVersion(t *testing.T) {
	ops := &recordingOps{createErrs: []error{alreadyExists("p1")}}
	obs := &transitionRecorder{}
	helper := newHelper(ops, obs)

	item := newConfigMap("p1", "42")
	got, err := helper.CreateOrReplace(context.Background(), item, false)
	require.NoError(t, err)

	assert.Equal(t, []string{"create", "replace"}, ops.calls)
	assert.Equal(t, "42", ops.replacedRV)
	assert.Equal(t, "101", got.ResourceVersion)
	assert.Equal(t, "42", item.ResourceVersion)
	assert.Equal(t, OutcomeReplaced, obs.outcome)
	assert.Equal(t, []State{StateCreating, StateConflict, StateReplacing, StateDone}, obs.states)
}

func TestCreateOrReplace_ReplaceWithoutVersionForcesWrite(t *testing.T) {
	ops := &recordingOps{createErrs: []error{alreadyExists("p1")}}
	helper := newHelper(ops, nil)

	_, err := helper.CreateOrReplace(context.Background(), newConfigMap("p1", ""), false)
	require.NoError(t, err)

	assert.Equal(t, []string{"create", "replace"}, ops.calls)
	assert.Empty(t, ops.replacedRV)
}

func TestCreateOrReplace_VersionConflictIsResolvedLikeAlreadyExists(t *testing.T) {
	conflict := apierrors.NewConflict(configMapResource, "p1", errors.New("object has been modified"))
	ops := &recordingOps{createErrs: []error{conflict}}
	helper := newHelper(ops, nil)

	_, err := helper.CreateOrReplace(context.Background(), newConfigMap("p1", "7"), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"create", "replace"}, ops.calls)
	assert.Equal(t, "7", ops.replacedRV)
}

func TestCreateOrReplace_ReplaceErrorIsPropagated(t *testing.T) {
	replaceErr := apierrors.NewConflict(configMapResource, "p1", errors.New("stale"))
	ops := &recordingOps{createErrs: []error{alreadyExists("p1")}, replaceErr: replaceErr}
	helper := newHelper(ops, nil)

	got, err := helper.CreateOrReplace(context.Background(), newConfigMap("p1", "1"), false)
	assert.Nil(t, got)
	assert.Same(t, replaceErr, err)
}

func TestCreateOrReplace_DeleteExistingRecreates(t *testing.T) {
	ops := &recordingOps{createErrs: []error{alreadyExists("p1")}, deleteResult: true}
	obs := &transitionRecorder{}
	helper := newHelper(ops, obs)

	got, err := helper.CreateOrReplace(context.Background(), newConfigMap("p1", "42"), true)
	require.NoError(t, err)

	assert.Equal(t, []string{"create", "delete", "create"}, ops.calls)
	assert.Equal(t, []string{"", ""}, ops.createRVs)
	assert.Equal(t, "100", got.ResourceVersion)
	assert.Equal(t, OutcomeRecreated, obs.outcome)
	assert.Equal(t, []State{StateCreating, StateConflict, StateDeleting, StateRecreating, StateDone}, obs.states)
}

func TestCreateOrReplace_DeleteExistingFailsWhenDeleteReportsFalse(t *testing.T) {
	ops := &recordingOps{createErrs: []error{alreadyExists("p1")}, deleteResult: false}
	helper := newHelper(ops, nil)

	got, err := helper.CreateOrReplace(context.Background(), newConfigMap("p1", ""), true)
	require.Error(t, err)
	assert.Nil(t, got)

	assert.Equal(t, []string{"create", "delete"}, ops.calls)
	assert.Contains(t, err.Error(), "p1")
	assert.Equal(t, "failed to delete existing item: p1", err.Error())
	assert.ErrorIs(t, err, ErrDeleteFailed)

	var deleteErr *DeleteFailedError
	require.ErrorAs(t, err, &deleteErr)
	assert.Equal(t, "p1", deleteErr.Name)
}

func TestCreateOrReplace_DeleteErrorIsWrapped(t *testing.T) {
	cause := apierrors.NewForbidden(configMapResource, "p1", errors.New("no"))
	ops := &recordingOps{createErrs: []error{alreadyExists("p1")}, deleteErr: cause}
	helper := newHelper(ops, nil)

	_, err := helper.CreateOrReplace(context.Background(), newConfigMap("p1", ""), true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeleteFailed)
	assert.True(t, apierrors.IsForbidden(err))
	assert.NotContains(t, ops.calls[2:], "create")
}

func TestCreateOrReplace_RetriesTransientErrorUntilCreateSucceeds(t *testing.T) {
	tests := []struct {
		name     string
		failures int
	}{
		{name: "one transient failure", failures: 1},
		{name: "two transient failures", failures: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			createErrs := make([]error, tt.failures)
			for i := range createErrs {
				createErrs[i] = serverError()
			}
			ops := &recordingOps{createErrs: createErrs}
			obs := &transitionRecorder{}
			helper := newHelper(ops, obs)

			got, err := helper.CreateOrReplace(context.Background(), newConfigMap("p1", ""), false)
			require.NoError(t, err)
			require.NotNil(t, got)

			var want []string
			for i := 0; i < tt.failures; i++ {
				want = append(want, "create", "reload", "wait")
			}
			want = append(want, "create")
			assert.Equal(t, want, ops.calls)
			assert.Equal(t, tt.failures+1, obs.attempts)
			assert.Equal(t, OutcomeCreated, obs.outcome)
		})
	}
}

func TestCreateOrReplace_TransientErrorWithLandedCreateReplaces(t *testing.T) {
	ops := &recordingOps{
		createErrs:    []error{serverError()},
		reloadResults: []*corev1.ConfigMap{newConfigMap("p1", "55")},
	}
	obs := &transitionRecorder{}
	helper := newHelper(ops, obs)

	_, err := helper.CreateOrReplace(context.Background(), newConfigMap("p1", "9"), false)
	require.NoError(t, err)

	assert.Equal(t, []string{"create", "reload", "replace"}, ops.calls)
	assert.Equal(t, "9", ops.replacedRV, "replace must use the version captured before the call")
	assert.Equal(t, []State{StateCreating, StateReloading, StateConflict, StateReplacing, StateDone}, obs.states)
}

func TestCreateOrReplace_TransientErrorWithLandedCreateRecreates(t *testing.T) {
	ops := &recordingOps{
		createErrs:    []error{serverError()},
		reloadResults: []*corev1.ConfigMap{newConfigMap("p1", "55")},
		deleteResult:  true,
	}
	helper := newHelper(ops, nil)

	_, err := helper.CreateOrReplace(context.Background(), newConfigMap("p1", ""), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"create", "reload", "delete", "create"}, ops.calls)
}

func TestCreateOrReplace_RetriesExhausted(t *testing.T) {
	ops := &recordingOps{createErrs: []error{serverError(), serverError(), serverError()}}
	obs := &transitionRecorder{}
	helper := newHelper(ops, obs)

	got, err := helper.CreateOrReplace(context.Background(), newConfigMap("p1", ""), false)
	require.Error(t, err)
	assert.Nil(t, got)

	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.True(t, apierrors.IsInternalError(err))

	var exhausted *RetriesExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, DefaultMaxAttempts, exhausted.Attempts)

	assert.Equal(t, []string{
		"create", "reload", "wait",
		"create", "reload", "wait",
		"create", "reload",
	}, ops.calls)
	assert.Equal(t, OutcomeFailed, obs.outcome)
	assert.Equal(t, StateFailed, obs.states[len(obs.states)-1])
}

func TestCreateOrReplace_MaxAttemptsOption(t *testing.T) {
	ops := &recordingOps{createErrs: []error{serverError()}}
	helper := New[*corev1.ConfigMap](ops, WithMaxAttempts(1), WithObserver(NopObserver{}))
	assert.Equal(t, 1, helper.MaxAttempts())

	_, err := helper.CreateOrReplace(context.Background(), newConfigMap("p1", ""), false)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, []string{"create", "reload"}, ops.calls)

	ignored := New[*corev1.ConfigMap](ops, WithMaxAttempts(0))
	assert.Equal(t, DefaultMaxAttempts, ignored.MaxAttempts())
}

func TestCreateOrReplace_ClientErrorIsNotRetried(t *testing.T) {
	cause := badRequest()
	ops := &recordingOps{createErrs: []error{cause}}
	obs := &transitionRecorder{}
	helper := newHelper(ops, obs)

	got, err := helper.CreateOrReplace(context.Background(), newConfigMap("p1", "3"), false)
	assert.Nil(t, got)
	assert.Same(t, cause, err)
	assert.Equal(t, []string{"create"}, ops.calls)
	assert.Equal(t, OutcomeFailed, obs.outcome)
	assert.Equal(t, 1, obs.attempts)
}

func TestCreateOrReplace_NonStatusErrorIsNotRetried(t *testing.T) {
	cause := errors.New("connection refused")
	ops := &recordingOps{createErrs: []error{cause}}
	helper := newHelper(ops, nil)

	_, err := helper.CreateOrReplace(context.Background(), newConfigMap("p1", ""), false)
	assert.Same(t, cause, err)
	assert.Equal(t, []string{"create"}, ops.calls)
}

func TestCreateOrReplace_ReloadNotFoundCountsAsAbsent(t *testing.T) {
	ops := &recordingOps{
		createErrs: []error{serverError()},
		reloadErr:  apierrors.NewNotFound(configMapResource, "p1"),
	}
	helper := newHelper(ops, nil)

	_, err := helper.CreateOrReplace(context.Background(), newConfigMap("p1", ""), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"create", "reload", "wait", "create"}, ops.calls)
}

func TestCreateOrReplace_ReloadFailureIsPropagated(t *testing.T) {
	reloadErr := apierrors.NewUnauthorized("token expired")
	ops := &recordingOps{createErrs: []error{serverError()}, reloadErr: reloadErr}
	helper := newHelper(ops, nil)

	_, err := helper.CreateOrReplace(context.Background(), newConfigMap("p1", ""), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, reloadErr)
	assert.Contains(t, err.Error(), "p1")
	assert.Equal(t, []string{"create", "reload"}, ops.calls)
}

func TestCreateOrReplace_WaitFailureStopsRetrying(t *testing.T) {
	ops := &recordingOps{createErrs: []error{serverError()}, waitErr: context.DeadlineExceeded}
	helper := newHelper(ops, nil)

	_, err := helper.CreateOrReplace(context.Background(), newConfigMap("p1", ""), false)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{"create", "reload", "wait"}, ops.calls)
}

func TestCreateOrReplace_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ops := &recordingOps{}
	helper := newHelper(ops, nil)

	_, err := helper.CreateOrReplace(ctx, newConfigMap("p1", ""), false)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, ops.calls)
}

func TestCreateOrReplace_Idempotent(t *testing.T) {
	store := map[string]*corev1.ConfigMap{}
	version := 0
	ops := OperationFuncs[*corev1.ConfigMap]{
		CreateFunc: func(_ context.Context, obj *corev1.ConfigMap) (*corev1.ConfigMap, error) {
			if _, ok := store[obj.Name]; ok {
				return nil, alreadyExists(obj.Name)
			}
			version++
			out := obj.DeepCopy()
			out.ResourceVersion = strconv.Itoa(version)
			store[obj.Name] = out
			return out.DeepCopy(), nil
		},
		ReplaceFunc: func(_ context.Context, obj *corev1.ConfigMap) (*corev1.ConfigMap, error) {
			current := store[obj.Name]
			if obj.ResourceVersion != "" && obj.ResourceVersion != current.ResourceVersion {
				return nil, apierrors.NewConflict(configMapResource, obj.Name, errors.New("stale"))
			}
			version++
			out := obj.DeepCopy()
			out.ResourceVersion = strconv.Itoa(version)
			store[obj.Name] = out
			return out.DeepCopy(), nil
		},
		DeleteFunc: func(_ context.Context, obj *corev1.ConfigMap) (bool, error) {
			delete(store, obj.Name)
			return true, nil
		},
	}
	helper := New[*corev1.ConfigMap](ops, WithObserver(NopObserver{}))

	first, err := helper.CreateOrReplace(context.Background(), newConfigMap("p1", ""), false)
	require.NoError(t, err)
	assert.Equal(t, "1", first.ResourceVersion)

	first.Data["second"] = "2nd"
	second, err := helper.CreateOrReplace(context.Background(), first, false)
	require.NoError(t, err)
	assert.Equal(t, "2", second.ResourceVersion)
	assert.Equal(t, "2nd", store["p1"].Data["second"])

	third, err := helper.CreateOrReplace(context.Background(), newConfigMap("p1", ""), false)
	require.NoError(t, err)
	assert.Equal(t, "3", third.ResourceVersion)
}

func TestReconcile_ReportsOutcome(t *testing.T) {
	tests := []struct {
		name           string
		ops            *recordingOps
		deleteExisting bool
		want           Outcome
	}{
		{name: "created", ops: &recordingOps{}, want: OutcomeCreated},
		{name: "replaced", ops: &recordingOps{createErrs: []error{alreadyExists("p1")}}, want: OutcomeReplaced},
		{
			name:           "recreated",
			ops:            &recordingOps{createErrs: []error{alreadyExists("p1")}, deleteResult: true},
			deleteExisting: true,
			want:           OutcomeRecreated,
		},
		{name: "failed", ops: &recordingOps{createErrs: []error{badRequest()}}, want: OutcomeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			helper := newHelper(tt.ops, nil)
			_, outcome, _ := helper.Reconcile(context.Background(), newConfigMap("p1", "3"), tt.deleteExisting)
			assert.Equal(t, tt.want, outcome)
		})
	}
}

func TestOperationFuncs_NilOptionalFuncs(t *testing.T) {
	ops := OperationFuncs[*corev1.ConfigMap]{}

	got, err := ops.Reload(context.Background(), newConfigMap("p1", ""))
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, ops.Wait(context.Background(), newConfigMap("p1", "")))
}

func TestAPIStatusClassifier(t *testing.T) {
	c := APIStatusClassifier{}

	tests := []struct {
		name     string
		err      error
		server   bool
		conflict bool
		notFound bool
		code     int32
	}{
		{name: "internal error", err: serverError(), server: true, code: http.StatusInternalServerError},
		{name: "service unavailable", err: apierrors.NewServiceUnavailable("down"), server: true, code: http.StatusServiceUnavailable},
		{name: "already exists", err: alreadyExists("p1"), conflict: true, code: http.StatusConflict},
		{name: "version conflict", err: apierrors.NewConflict(configMapResource, "p1", errors.New("x")), conflict: true, code: http.StatusConflict},
		{name: "not found", err: apierrors.NewNotFound(configMapResource, "p1"), notFound: true, code: http.StatusNotFound},
		{name: "bad request", err: badRequest(), code: http.StatusBadRequest},
		{name: "plain error", err: errors.New("boom")},
		{name: "nil", err: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.server, c.IsServerError(tt.err))
			assert.Equal(t, tt.conflict, c.IsConflict(tt.err))
			assert.Equal(t, tt.notFound, c.IsNotFound(tt.err))
			assert.Equal(t, tt.code, StatusCode(tt.err))
		})
	}
}

func TestStatusCode_WrappedError(t *testing.T) {
	err := errors.Join(errors.New("context"), alreadyExists("p1"))
	assert.Equal(t, int32(http.StatusConflict), StatusCode(err))
}
