package serialmux

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/framelink/internal/packet"
	"github.com/banshee-data/framelink/internal/transport"
)

// localHostRequest creates an httptest request that appears to come from localhost.
// This satisfies tsweb.AllowDebugAccess which checks for loopback IPs.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestAttachAdminRoutes_SendPacketAPI(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		form           url.Values
		expectedStatus int
		bodyContains   string
		wantWritten    bool
	}{
		{"valid packet", http.MethodPost, url.Values{"id": {"7"}, "payload": {"68 69"}}, http.StatusOK, "Packet[id=7, size=2, valid=true]", true},
		{"default id", http.MethodPost, url.Values{"payload": {"00"}}, http.StatusOK, "id=0", true},
		{"missing payload", http.MethodPost, url.Values{"id": {"1"}}, http.StatusBadRequest, "missing payload", false},
		{"bad hex", http.MethodPost, url.Values{"payload": {"zz"}}, http.StatusBadRequest, "invalid hex", false},
		{"bad id", http.MethodPost, url.Values{"id": {"70000"}, "payload": {"01"}}, http.StatusBadRequest, "invalid id", false},
		{"oversized payload", http.MethodPost, url.Values{"payload": {strings.Repeat("ab", packet.Capacity+1)}}, http.StatusBadRequest, "payload must be", false},
		{"GET not allowed", http.MethodGet, nil, http.StatusMethodNotAllowed, "method not allowed", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := NewTestableSerialPort()
			mux := NewSerialMux(port)
			httpMux := http.NewServeMux()
			mux.AttachAdminRoutes(httpMux, nil)

			var body io.Reader
			if tt.form != nil {
				body = strings.NewReader(tt.form.Encode())
			}
			req := localHostRequest(tt.method, "/debug/send-packet-api", body)
			if tt.form != nil {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}
			w := httptest.NewRecorder()
			httpMux.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), tt.bodyContains)
			if tt.wantWritten {
				assert.Len(t, port.GetWrittenData(), packet.WireSize)
			} else {
				assert.Empty(t, port.GetWrittenData())
			}
		})
	}
}

func TestAttachAdminRoutes_SendPacketWriteFailure(t *testing.T) {
	port := NewTestableSerialPort()
	port.WriteError = io.ErrClosedPipe
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux, nil)

	req := localHostRequest(http.MethodPost, "/debug/send-packet-api", strings.NewReader("payload=01"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "failed to write packet")
}

func TestAttachAdminRoutes_SendPacketThroughEndpoint(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	var events []transport.Event
	ep := transport.NewEndpoint(mux.Transport(), transport.ObserverFunc(func(_ context.Context, ev *transport.Event) error {
		events = append(events, *ev)
		return nil
	}))
	defer ep.Close()

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux, ep.Send)

	req := localHostRequest(http.MethodPost, "/debug/send-packet-api", strings.NewReader("id=9&payload=6869"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Len(t, port.GetWrittenData(), packet.WireSize)
	require.Len(t, events, 1)
	assert.Equal(t, transport.Tx, events[0].Direction)
	assert.Equal(t, uint16(9), events[0].Packet.ID)
	assert.Equal(t, []byte("hi"), events[0].Packet.Payload())
}

func TestAttachAdminRoutes_SendPacketRejected(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux, func(context.Context, *packet.Packet) error {
		return fmt.Errorf("uart send: %w", transport.ErrInvalidPacket)
	})

	req := localHostRequest(http.MethodPost, "/debug/send-packet-api", strings.NewReader("payload=01"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "not valid")
}

func TestAttachAdminRoutes_SendPacketPage(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort(), WithName("uart0"))
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux, nil)

	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/send-packet", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Send packet on uart0")
	assert.Contains(t, w.Body.String(), "512")
}

func TestAttachAdminRoutes_Stats(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	p := testPacket(t, 1, "x")
	require.NoError(t, mux.SendPacket(context.Background(), &p))

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux, nil)
	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/serial-stats", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var stats Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, uint64(1), stats.Sent)
}

func TestAttachAdminRoutes_Tail(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux, nil)

	srv := httptest.NewServer(httpMux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go mux.Monitor(ctx)
	defer mux.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/debug/tail", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": ping\n", line)

	// the subscription exists once the ping has been flushed
	secret := testPacket(t, 5, "top-secret")
	require.NoError(t, port.AddPacket(secret))

	for {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}
	assert.Equal(t, "data: Packet[id=5, size=10, valid=true]\n", line)
	assert.NotContains(t, line, "top-secret")
}

func TestAttachAdminRoutes_TailMethodNotAllowed(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux, nil)

	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, localHostRequest(http.MethodPost, "/debug/tail", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
