package server

import (
	"net/http"
	"net/url"

	"github.com/cyclopcam/roadsign/pkg/signs"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

type signJSON struct {
	signs.Info
	ImageURL string `json:"imageUrl,omitempty"` // Relative to the server root. Absent if we have no illustration.
}

func (s *Server) signToJSON(info signs.Info) signJSON {
	j := signJSON{Info: info}
	if s.pipeline.HasSignImage(info.Code) {
		j.ImageURL = "/sign-images/" + url.PathEscape(info.Code) + ".png"
	}
	return j
}

func (s *Server) httpSigns(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	entries := s.pipeline.Catalog().Entries()
	out := make([]signJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, s.signToJSON(e))
	}
	www.SendJSON(w, out)
}

// Unknown codes get the same placeholder that a detection of that code would get
func (s *Server) httpSign(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	code := params.ByName("code")
	www.SendJSON(w, s.signToJSON(s.pipeline.Catalog().Lookup(code)))
}
