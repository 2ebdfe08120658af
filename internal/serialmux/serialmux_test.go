package serialmux

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendCommandAppendsNewline(t *testing.T) {
	t.Parallel()

	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	require.NoError(t, mux.SendCommand("ARM GRAB"))
	require.NoError(t, mux.SendCommand("ARM RELEASE 1\n"))
	assert.Equal(t, "ARM GRAB\nARM RELEASE 1\n", port.GetWrittenData())
}

func TestSendCommandWriteError(t *testing.T) {
	t.Parallel()

	port := NewTestableSerialPort()
	port.WriteError = errors.New("unplugged")
	err := NewSerialMux(port).SendCommand("RESET")
	assert.EqualError(t, err, "unplugged")
}

func TestInitialize(t *testing.T) {
	t.Parallel()

	port := NewTestableSerialPort()
	require.NoError(t, NewSerialMux(port).Initialize())
	assert.Equal(t, "RESET\nSTREAM ON\n", port.GetWrittenData())
}

func TestMonitorFansOutLines(t *testing.T) {
	t.Parallel()

	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	id1, ch1 := mux.Subscribe()
	_, ch2 := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	port.AddReadData([]byte("{\"x\":1}\nok ARM GRAB\n"))

	for _, ch := range []chan string{ch1, ch2} {
		assert.Equal(t, `{"x":1}`, recv(t, ch))
		assert.Equal(t, "ok ARM GRAB", recv(t, ch))
	}

	mux.Unsubscribe(id1)
	_, open := <-ch1
	assert.False(t, open)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Monitor did not stop")
	}
	require.NoError(t, mux.Close())
	_, open = <-ch2
	assert.False(t, open)
}

func TestMonitorReturnsOnPortClose(t *testing.T) {
	t.Parallel()

	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(context.Background()) }()

	require.NoError(t, port.Close())
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Monitor did not stop")
	}
}

func TestSimulatedSerialMuxAcks(t *testing.T) {
	t.Parallel()

	mux, port := NewSimulatedSerialMux()
	_, ch := mux.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	require.NoError(t, mux.SendCommand(RotateCommand(6.28, 0.5)))
	assert.Equal(t, "ok DRIVE ROTATE", recv(t, ch))
	assert.Contains(t, port.GetWrittenData(), "DRIVE ROTATE 6.2800 0.5000")
}

func TestDisabledSerialMux(t *testing.T) {
	t.Parallel()

	d := NewDisabledSerialMux()
	id, ch := d.Subscribe()
	assert.ErrorIs(t, d.SendCommand("ARM GRAB"), ErrBridgeDisabled)
	assert.Equal(t, []string{"ARM GRAB"}, d.Dropped())
	assert.NoError(t, d.Initialize())
	d.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)

	_, ch = d.Subscribe()
	require.NoError(t, d.Close())
	_, open = <-ch
	assert.False(t, open)
	require.NoError(t, d.Close())

	_, ch = d.Subscribe()
	_, open = <-ch
	assert.False(t, open)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Monitor(ctx), context.Canceled)

	mux := http.NewServeMux()
	d.AttachAdminRoutes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/serial-disabled", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ARM GRAB")
}

func TestAdminRoutes(t *testing.T) {
	t.Parallel()

	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/send-command", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Send command")

	form := url.Values{"command": {"SAY 0 hello"}}
	req := localHostRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	httpMux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SAY 0 hello\n", port.GetWrittenData())

	rec = httptest.NewRecorder()
	httpMux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/send-command-api", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	req = localHostRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader("command="))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	httpMux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// localHostRequest creates a request that appears to come from localhost so
// tsweb.AllowDebugAccess lets it through.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func recv(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case line, ok := <-ch:
		require.True(t, ok, "channel closed")
		return line
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for line")
		return ""
	}
}
