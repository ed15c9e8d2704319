package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/cyclopcam/roadsign/pkg/imagex"
	"github.com/cyclopcam/roadsign/pkg/signdet"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

type predictRequest struct {
	Image    string `json:"image"`              // base64, or a data URL
	MimeType string `json:"mimeType,omitempty"` // Optional. Must be image/* if present.
}

// predict runs the whole pipeline on one request: decode, detect, filter, dedup, name
func (s *Server) predict(ctx context.Context, req *predictRequest) (*signdet.Response, error) {
	img, err := imagex.DecodeBase64(req.Image, req.MimeType)
	if err != nil {
		return nil, err
	}
	objects, err := s.queue.Detect(ctx, img)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	return s.pipeline.Process(objects, b.Dx(), b.Dy()), nil
}

// Returns the HTTP status code that best describes a failed prediction
func predictErrorStatus(err error) int {
	switch {
	case errors.Is(err, imagex.ErrBadImage):
		return http.StatusBadRequest
	case errors.Is(err, ErrQueueFull), errors.Is(err, ErrQueueClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) httpPredict(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	req := predictRequest{}
	www.ReadJSON(w, r, &req, s.config.MaxImageBytes)
	resp, err := s.predict(r.Context(), &req)
	if err != nil {
		switch code := predictErrorStatus(err); code {
		case http.StatusBadRequest:
			www.PanicBadRequestf("%v", err)
		case http.StatusInternalServerError:
			www.Check(err)
		default:
			s.Log.Infof("Failed request %v: %v %v", r.URL.Path, code, err)
			www.SendError(w, err.Error(), code)
			return
		}
	}
	www.SendJSON(w, resp)
}
