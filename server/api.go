package server

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cyclopcam/roadsign/pkg/nnload"
	"github.com/cyclopcam/staticfiles"
	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
)

const detectorHealthTimeout = 5 * time.Second

func (s *Server) setupHttpRoutes() error {
	router := httprouter.New()

	handle := func(method, route string, h httprouter.Handle) {
		www.Handle(s.Log, router, method, route, h)
	}

	// ratelimited creates a handler that is limited to a number of requests per minute, per IP
	ratelimited := func(method, route string, h httprouter.Handle, requestsPerMinute int) {
		if requestsPerMinute <= 0 {
			handle(method, route, h)
			return
		}
		limited := httprate.Limit(requestsPerMinute, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))
		handle(method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				h(w, r, params)
			})).ServeHTTP(w, r)
		})
	}

	handle("GET", "/health", s.httpHealth)
	handle("GET", "/api/detector/health", s.httpDetectorHealth)
	ratelimited("POST", "/predict", s.httpPredict, s.config.RateLimit)
	handle("GET", "/api/signs", s.httpSigns)
	handle("GET", "/api/signs/:code", s.httpSign)
	handle("GET", "/api/ws/predict", s.httpPredictStream)

	// A missing directory is not fatal. Requests for sign images will just 404.
	if s.config.SignImagesDir != "" {
		router.ServeFiles("/sign-images/*filepath", filesOnly{http.Dir(s.config.SignImagesDir)})
	}

	if s.config.WWWDir != "" {
		absRoot, err := filepath.Abs(s.config.WWWDir)
		if err != nil {
			return err
		}
		s.Log.Infof("Serving static files from %v", absRoot)
		apiRoutes := []string{"/api/", "/predict", "/health", "/sign-images/"}
		static, err := staticfiles.NewCachedStaticFileServer(os.DirFS(absRoot), "", apiRoutes, s.Log, false, nil)
		if err != nil {
			s.Log.Warnf("Error in static files: %v", err)
		} else {
			router.NotFound = static
		}
	}

	s.httpRouter = router
	s.handler = cors.AllowAll().Handler(router)
	return nil
}

// filesOnly hides directories, so that we never produce a directory listing
type filesOnly struct {
	fs http.FileSystem
}

func (f filesOnly) Open(name string) (http.File, error) {
	file, err := f.fs.Open(name)
	if err != nil {
		return nil, err
	}
	st, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if st.IsDir() {
		file.Close()
		return nil, os.ErrNotExist
	}
	return file, nil
}

func (s *Server) httpHealth(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, map[string]string{"status": "ok"})
}

// Unlike /health, this reports whether we can actually run inference right now
func (s *Server) httpDetectorHealth(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	if err := nnload.CheckHealth(s.detector, detectorHealthTimeout); err != nil {
		s.Log.Warnf("Detector health check failed: %v", err)
		www.SendError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	www.SendJSON(w, map[string]string{"status": "ok"})
}
