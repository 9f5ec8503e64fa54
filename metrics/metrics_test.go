package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordInvocation(t *testing.T) {
	ok := Invocations.WithLabelValues("JoinChannel", "ok")
	failed := Invocations.WithLabelValues("JoinChannel", "error")
	okBefore, failedBefore := testutil.ToFloat64(ok), testutil.ToFloat64(failed)

	RecordInvocation("JoinChannel", nil)
	RecordInvocation("JoinChannel", errors.New("boom"))
	RecordInvocation("JoinChannel", nil)

	assert.Equal(t, okBefore+2, testutil.ToFloat64(ok))
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(failed))
}

func TestRecordRequest(t *testing.T) {
	before := testutil.CollectAndCount(RequestDuration)
	RecordRequest("GET", "599", 0.01)
	assert.Equal(t, before+1, testutil.CollectAndCount(RequestDuration))
}
