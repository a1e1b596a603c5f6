package serialmux

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"tailscale.com/tsweb"

	"github.com/banshee-data/framelink/internal/httputil"
	"github.com/banshee-data/framelink/internal/packet"
	"github.com/banshee-data/framelink/internal/transport"
)

var sendPacketTemplate = template.Must(template.New("send-packet").Parse(`<!DOCTYPE html>
<html><head><title>send packet</title></head>
<body>
<h1>Send packet on {{.Name}}</h1>
<form method="POST" action="send-packet-api">
  <label>id <input name="id" value="0"></label>
  <label>payload (hex) <input name="payload" size="80"></label>
  <button type="submit">send</button>
</form>
<p>Max payload {{.Capacity}} bytes.</p>
<pre id="tail"></pre>
<script>
const es = new EventSource("tail");
es.onmessage = (e) => { document.getElementById("tail").textContent += e.data + "\n"; };
</script>
</body></html>
`))

// parsePacketForm builds a packet from the id and hex payload form fields.
func parsePacketForm(r *http.Request) (*packet.Packet, error) {
	idStr := strings.TrimSpace(r.FormValue("id"))
	if idStr == "" {
		idStr = "0"
	}
	id, err := strconv.ParseUint(idStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid id %q", idStr)
	}
	raw := strings.ReplaceAll(strings.TrimSpace(r.FormValue("payload")), " ", "")
	if raw == "" {
		return nil, errors.New("missing payload")
	}
	payload, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload: %v", err)
	}
	p := &packet.Packet{ID: uint16(id)}
	if !p.SetPayload(payload, len(payload)) {
		return nil, fmt.Errorf("payload must be 1-%d bytes, got %d", packet.Capacity, len(payload))
	}
	return p, nil
}

// SendFunc delivers one packet for the send-packet routes.
// transport.Endpoint.Send satisfies it.
type SendFunc func(context.Context, *packet.Packet) error

// AttachAdminRoutes mounts the serial debug routes. Packets posted to
// send-packet-api go through send, or straight to the port when send is nil.
func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux, send SendFunc) {
	debug := tsweb.Debugger(mux)
	if send == nil {
		send = s.SendPacket
	}

	debug.HandleFunc("send-packet", "send a packet to the serial port", func(w http.ResponseWriter, r *http.Request) {
		err := sendPacketTemplate.Execute(w, struct {
			Name     string
			Capacity int
		}{s.name, packet.Capacity})
		if err != nil {
			httputil.InternalServerError(w, "failed to render template")
		}
	})

	debug.HandleSilentFunc("send-packet-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		p, err := parsePacketForm(r)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if err := send(r.Context(), p); err != nil {
			if errors.Is(err, transport.ErrInvalidPacket) {
				httputil.BadRequest(w, err.Error())
				return
			}
			httputil.InternalServerError(w, fmt.Sprintf("failed to write packet: %v", err))
			return
		}
		httputil.WriteJSONOK(w, map[string]string{"sent": p.HeaderInfo()})
	})

	debug.HandleFunc("serial-stats", "frame counters for the serial port", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, s.Stats())
	})

	// Server-Sent Events with one header line per received packet. Payload
	// bytes may be binary and are never streamed.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			httputil.InternalServerError(w, "streaming unsupported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case p, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", p.HeaderInfo()); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
