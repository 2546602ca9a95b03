package armarkertracker

import (
	"armarkertracker/scene"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/rimage"
	rdkutils "go.viam.com/rdk/utils"
)

// debugServer serves a browser-friendly preview of the session: the composited
// frame plus status and marker state as JSON. Only started when
// debug_http_address is configured.
type debugServer struct {
	logger logging.Logger
	sess   *session
	srv    *http.Server
}

func newDebugServer(addr string, sess *session, logger logging.Logger) *debugServer {
	d := &debugServer{logger: logger, sess: sess}
	r := mux.NewRouter()
	r.HandleFunc("/frame.jpg", d.handleFrame).Methods("GET")
	r.HandleFunc("/status.json", d.handleStatus).Methods("GET")
	r.HandleFunc("/markers.json", d.handleMarkers).Methods("GET")
	d.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return d
}

func (d *debugServer) start() {
	go func() {
		d.logger.Infof("Debug preview listening on %s", d.srv.Addr)
		if err := d.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.logger.Errorf("Debug server stopped: %v", err)
		}
	}()
}

func (d *debugServer) shutdown(ctx context.Context) error {
	return d.srv.Shutdown(ctx)
}

func (d *debugServer) handleFrame(w http.ResponseWriter, r *http.Request) {
	img, _, err := d.sess.ComposedFrame()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	data, err := rimage.EncodeImage(r.Context(), img, rdkutils.MimeTypeJPEG)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	if _, err := w.Write(data); err != nil {
		d.logger.Debugf("Failed to write frame: %v", err)
	}
}

func (d *debugServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	d.writeJSON(w, d.sess.statusMap())
}

func (d *debugServer) handleMarkers(w http.ResponseWriter, r *http.Request) {
	d.writeJSON(w, map[string]interface{}{
		"markers": scene.StatesToMaps(d.sess.tracked.Snapshot()),
	})
}

func (d *debugServer) writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		d.logger.Debugf("Failed to write response: %v", err)
	}
}
