package relay

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type request struct {
	method      string
	contentType string
	body        string
}

type captured struct {
	mu   sync.Mutex
	last request
}

func newCollaborator(t *testing.T, status int) (*httptest.Server, *captured, *atomic.Int32) {
	t.Helper()
	got := &captured{}
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		b, _ := io.ReadAll(r.Body)
		got.mu.Lock()
		defer got.mu.Unlock()
		got.last = request{method: r.Method, contentType: r.Header.Get("Content-Type"), body: string(b)}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, got, &calls
}

func (c *captured) snapshot() request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func newDispatcher(t *testing.T, url string, require bool) *Dispatcher {
	t.Helper()
	d, err := New(Settings{BroadcastURL: url, Timeout: 2 * time.Second, RequireFields: require}, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create dispatcher: %v", err)
	}
	return d
}

func TestDispatch_Success(t *testing.T) {
	srv, got, calls := newCollaborator(t, http.StatusOK)
	d := newDispatcher(t, srv.URL, true)

	out := d.Dispatch(context.Background(), Draft{Title: "Sale Today", Body: "20% off everything"})

	assert.True(t, out.Success)
	assert.Equal(t, SuccessMessage, out.Message)
	require.NotNil(t, out.Data)
	assert.Equal(t, Draft{Title: "Sale Today", Body: "20% off everything"}, *out.Data)
	assert.Empty(t, out.Error)

	assert.Equal(t, int32(1), calls.Load())
	snap := got.snapshot()
	assert.Equal(t, http.MethodPost, snap.method)
	assert.Equal(t, "application/json", snap.contentType)
	assert.Equal(t, `{"title":"Sale Today","body":"20% off everything"}`, snap.body)
}

func TestDispatch_CollaboratorRejected(t *testing.T) {
	srv, _, _ := newCollaborator(t, http.StatusInternalServerError)
	d := newDispatcher(t, srv.URL, true)

	out := d.Dispatch(context.Background(), Draft{Title: "t", Body: "b"})

	assert.False(t, out.Success)
	assert.Equal(t, FailureMessage, out.Message)
	assert.Equal(t, "webhook failed: 500", out.Error)
	assert.Nil(t, out.Data)
}

func TestDispatch_RedirectIsFailure(t *testing.T) {
	var followed atomic.Bool
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		followed.Store(true)
	}))
	defer target.Close()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusTemporaryRedirect)
	}))
	defer srv.Close()

	out := newDispatcher(t, srv.URL, true).Dispatch(context.Background(), Draft{Title: "t", Body: "b"})

	assert.False(t, out.Success)
	assert.Equal(t, "webhook failed: 307", out.Error)
	assert.False(t, followed.Load())
}

func TestDispatch_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	out := newDispatcher(t, url, true).Dispatch(context.Background(), Draft{Title: "t", Body: "b"})

	assert.False(t, out.Success)
	assert.Equal(t, FailureMessage, out.Message)
	assert.NotEmpty(t, out.Error)
}

func TestDispatch_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	d, err := New(Settings{BroadcastURL: srv.URL, Timeout: 50 * time.Millisecond, RequireFields: true}, nil, zerolog.Nop())
	require.NoError(t, err)

	start := time.Now()
	out := d.Dispatch(context.Background(), Draft{Title: "t", Body: "b"})

	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "deadline exceeded")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDispatch_CallerCancellationDoesNotAbort(t *testing.T) {
	srv, _, calls := newCollaborator(t, http.StatusOK)
	d := newDispatcher(t, srv.URL, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := d.Dispatch(ctx, Draft{Title: "t", Body: "b"})

	assert.True(t, out.Success)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDispatch_ValidationFailed(t *testing.T) {
	srv, _, calls := newCollaborator(t, http.StatusOK)
	d := newDispatcher(t, srv.URL, true)

	out := d.Dispatch(context.Background(), Draft{Title: "", Body: "b"})

	assert.False(t, out.Success)
	assert.Equal(t, ValidationMessage, out.Message)
	assert.Equal(t, "validation failed: missing title", out.Error)
	assert.Equal(t, int32(0), calls.Load())
}

func TestDispatch_LaxForwardsBlankFields(t *testing.T) {
	srv, got, calls := newCollaborator(t, http.StatusOK)
	d := newDispatcher(t, srv.URL, false)

	out := d.Dispatch(context.Background(), Draft{})

	assert.True(t, out.Success)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, `{"title":"","body":""}`, got.snapshot().body)
}

func TestDispatch_IndependentCalls(t *testing.T) {
	srv, _, calls := newCollaborator(t, http.StatusOK)
	d := newDispatcher(t, srv.URL, true)

	d.Dispatch(context.Background(), Draft{Title: "t", Body: "b"})
	d.Dispatch(context.Background(), Draft{Title: "t", Body: "b"})

	assert.Equal(t, int32(2), calls.Load())
}

func TestApply_SwapsTarget(t *testing.T) {
	first, _, firstCalls := newCollaborator(t, http.StatusOK)
	second, _, secondCalls := newCollaborator(t, http.StatusOK)
	d := newDispatcher(t, first.URL, true)

	require.NoError(t, d.Apply(Settings{BroadcastURL: second.URL}))
	d.Dispatch(context.Background(), Draft{Title: "t", Body: "b"})

	assert.Equal(t, int32(0), firstCalls.Load())
	assert.Equal(t, int32(1), secondCalls.Load())
	assert.Equal(t, DefaultTimeout, d.Settings().Timeout)
	assert.ErrorIs(t, d.Apply(Settings{}), ErrNoBroadcastURL)
}

func TestEncodeDraft_NoHTMLEscaping(t *testing.T) {
	b, err := EncodeDraft(Draft{Title: "<b>Deals</b>", Body: "Tom & Jerry"})
	require.NoError(t, err)
	assert.Equal(t, `{"title":"<b>Deals</b>","body":"Tom & Jerry"}`, string(b))
}
