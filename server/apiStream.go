package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

type streamError struct {
	Error string `json:"error"`
}

// httpPredictStream serves the webcam mode of the frontend.
// Every text message is a predict request, and is answered by either a predict
// response, or a streamError. Requests on one connection are processed in order.
func (s *Server) httpPredictStream(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	c, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Errorf("httpPredictStream websocket upgrade failed: %v", err)
		return
	}
	defer c.Close()
	c.SetReadLimit(s.config.MaxImageBytes)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nFrames := 0
	for {
		msgType, msg, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.Log.Warnf("Predict stream closed unexpectedly: %v", err)
			}
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var reply any
		req := predictRequest{}
		if err := json.Unmarshal(msg, &req); err != nil {
			reply = streamError{Error: "Invalid request: " + err.Error()}
		} else if resp, err := s.predict(ctx, &req); err != nil {
			reply = streamError{Error: err.Error()}
		} else {
			reply = resp
		}
		if err := c.WriteJSON(reply); err != nil {
			s.Log.Warnf("Failed to write to predict stream: %v", err)
			break
		}
		nFrames++
	}
	s.Log.Infof("Predict stream finished after %v frames", nFrames)
}
