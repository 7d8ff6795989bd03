package api

import (
	"net/http"

	"github.com/vrsandeep/mediaflow/internal/launcher"
)

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, map[string]string{"version": s.app.Version})
}

type binaryStatus struct {
	launcher.Binary
	Version string `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleGetBinaries reports where each tool resolves and which version it is.
func (s *Server) handleGetBinaries(w http.ResponseWriter, r *http.Request) {
	bins := s.app.Config().Binaries
	out := make([]binaryStatus, 0, 3)
	for _, name := range []string{bins.Downloader, bins.Transcoder, bins.Prober} {
		st := binaryStatus{Binary: launcher.Binary{Name: name}}
		b, err := s.app.Resolver().Resolve(name)
		if err != nil {
			st.Error = err.Error()
			out = append(out, st)
			continue
		}
		st.Binary = b
		if v, err := launcher.Version(r.Context(), b); err != nil {
			st.Error = err.Error()
		} else {
			st.Version = v
		}
		out = append(out, st)
	}
	RespondWithJSON(w, http.StatusOK, out)
}
